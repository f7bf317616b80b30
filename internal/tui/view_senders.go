package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"gmaildu/internal/model"
)

// senderItem wraps SenderTotal to customize list display.
type senderItem struct {
	model.SenderTotal
}

func (s senderItem) FilterValue() string { return s.Sender }
func (s senderItem) Title() string {
	return fmt.Sprintf("%s (%d)", s.Sender, s.Count)
}
func (s senderItem) Description() string {
	return humanize.IBytes(uint64(s.TotalBytes))
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

func sendersFooter() string {
	return footerStyle.Render("enter: messages  tab: by month  r: reload  /: filter  q: quit")
}

func sendersToItems(rows []model.SenderTotal) []list.Item {
	items := make([]list.Item, len(rows))
	for i, r := range rows {
		items[i] = senderItem{r}
	}
	return items
}
