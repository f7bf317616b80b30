package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/dustin/go-humanize"

	"gmaildu/internal/model"
)

// monthItem wraps MonthTotal to customize list display.
type monthItem struct {
	model.MonthTotal
}

func (m monthItem) FilterValue() string { return m.Month }
func (m monthItem) Title() string {
	return fmt.Sprintf("%s (%d)", m.Month, m.Count)
}
func (m monthItem) Description() string {
	return humanize.IBytes(uint64(m.TotalBytes))
}

func monthsFooter() string {
	return footerStyle.Render("enter: messages  tab: by sender  r: reload  /: filter  q: quit")
}

func monthsToItems(rows []model.MonthTotal) []list.Item {
	items := make([]list.Item, len(rows))
	for i, r := range rows {
		items[i] = monthItem{r}
	}
	return items
}
