package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/dustin/go-humanize"

	"gmaildu/internal/model"
)

// messageItem wraps MessageRecord for the list display.
type messageItem struct {
	model.MessageRecord
}

func (m messageItem) FilterValue() string { return m.Subject + " " + m.Sender }
func (m messageItem) Title() string {
	indicator := ""
	if m.Marked {
		indicator = "* "
	}
	subject := m.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	return indicator + subject
}
func (m messageItem) Description() string {
	size := humanize.IBytes(uint64(m.SizeBytes))
	if m.SentAt.IsZero() {
		return fmt.Sprintf("From: %s  %s", m.Sender, size)
	}
	return fmt.Sprintf("From: %s  %s  %s", m.Sender, size, m.SentAt.Format("Jan 2, 2006"))
}

func messagesFooter() string {
	return footerStyle.Render("esc: back  /: filter  q: quit  *=labeled")
}

func messagesToItems(recs []model.MessageRecord) []list.Item {
	items := make([]list.Item, len(recs))
	for i, r := range recs {
		items[i] = messageItem{r}
	}
	return items
}
