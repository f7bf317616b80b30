package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"gmaildu/internal/model"
	"gmaildu/internal/report"
	"gmaildu/internal/store"
)

type viewState int

const (
	viewLoading viewState = iota
	viewSenders
	viewMonths
	viewMessages // drill-down from a sender or month row
)

// messageListCap bounds how many rows a drill-down loads into the list.
const messageListCap = 500

// countsRefreshEvery is how often the status line re-reads the index, so a
// scan running in another process shows up while browsing.
const countsRefreshEvery = 2 * time.Second

// AppModel is a read-only browser over the local index. It never talks to
// the remote API, so it is safe to keep open while a scan is in flight.
type AppModel struct {
	store *store.Store
	agg   *report.Aggregator
	Err   error

	view     viewState
	prevView viewState // where esc returns from viewMessages
	status   string

	counts model.StatusCounts
	bytes  int64

	sendersList  list.Model
	monthsList   list.Model
	messagesList list.Model

	width, height int
}

func NewAppModel(st *store.Store, agg *report.Aggregator) AppModel {
	newList := func(title string) list.Model {
		l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
		l.Title = title
		// Remove esc from the list's built-in Quit binding so esc only
		// navigates back.
		l.KeyMap.Quit.SetKeys("q")
		return l
	}
	return AppModel{
		store:        st,
		agg:          agg,
		view:         viewLoading,
		status:       "Loading...",
		sendersList:  newList("Senders"),
		monthsList:   newList("Months"),
		messagesList: newList("Messages"),
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), countsTick())
}

// Commands

func (m *AppModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		senders, err := m.agg.BySender(ctx, 0)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		months, err := m.agg.ByMonth(ctx, 0)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		counts, err := m.store.CountByStatus(ctx)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		_, bytes, err := m.agg.Totals(ctx)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		return dataLoadedMsg{senders: senders, months: months, counts: counts, bytes: bytes}
	}
}

func countsTick() tea.Cmd {
	return tea.Tick(countsRefreshEvery, func(time.Time) tea.Msg {
		return countsTickMsg{}
	})
}

func (m *AppModel) countsCmd() tea.Cmd {
	return func() tea.Msg {
		counts, err := m.store.CountByStatus(context.Background())
		return countsLoadedMsg{counts: counts, err: err}
	}
}

// messagesCmd loads the fetched messages match accepts, largest first.
func (m *AppModel) messagesCmd(title string, match func(model.MessageRecord) bool) tea.Cmd {
	return func() tea.Msg {
		var recs []model.MessageRecord
		err := m.store.ForEachDone(context.Background(), func(rec model.MessageRecord) error {
			if match(rec) {
				recs = append(recs, rec)
			}
			return nil
		})
		if err != nil {
			return messagesLoadedMsg{err: err}
		}
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].SizeBytes > recs[j].SizeBytes
		})
		if len(recs) > messageListCap {
			recs = recs[:messageListCap]
		}
		return messagesLoadedMsg{title: title, recs: recs}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listH := msg.Height - 4 // room for status line and footer
		m.sendersList.SetSize(msg.Width, listH)
		m.monthsList.SetSize(msg.Width, listH)
		m.messagesList.SetSize(msg.Width, listH)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case dataLoadedMsg:
		if msg.err != nil {
			m.Err = msg.err
			return m, tea.Quit
		}
		m.counts = msg.counts
		m.bytes = msg.bytes
		m.sendersList.SetItems(sendersToItems(msg.senders))
		m.sendersList.Title = fmt.Sprintf("Senders (%d)", len(msg.senders))
		m.monthsList.SetItems(monthsToItems(msg.months))
		m.monthsList.Title = fmt.Sprintf("Months (%d)", len(msg.months))
		if m.view == viewLoading {
			m.view = viewSenders
		}
		m.status = ""
		return m, nil

	case countsTickMsg:
		return m, tea.Batch(m.countsCmd(), countsTick())

	case countsLoadedMsg:
		if msg.err == nil {
			m.counts = msg.counts
		}
		return m, nil

	case messagesLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Load failed: %v", msg.err)
			return m, nil
		}
		m.messagesList.SetItems(messagesToItems(msg.recs))
		m.messagesList.Title = msg.title
		m.messagesList.ResetSelected()
		m.prevView = m.view
		m.view = viewMessages
		m.status = ""
		return m, nil
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewSenders:
		m.sendersList, cmd = m.sendersList.Update(msg)
	case viewMonths:
		m.monthsList, cmd = m.monthsList.Update(msg)
	case viewMessages:
		m.messagesList, cmd = m.messagesList.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	}

	switch m.view {
	case viewSenders:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.sendersList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.sendersList, cmd = m.sendersList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "tab", "m":
			m.view = viewMonths
			return m, nil
		case "r":
			m.status = "Reloading..."
			return m, m.loadCmd()
		case "enter":
			return m.enterSender()
		}
		var cmd tea.Cmd
		m.sendersList, cmd = m.sendersList.Update(msg)
		return m, cmd

	case viewMonths:
		if m.monthsList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.monthsList, cmd = m.monthsList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "tab", "s":
			m.view = viewSenders
			return m, nil
		case "r":
			m.status = "Reloading..."
			return m, m.loadCmd()
		case "enter":
			return m.enterMonth()
		}
		var cmd tea.Cmd
		m.monthsList, cmd = m.monthsList.Update(msg)
		return m, cmd

	case viewMessages:
		if m.messagesList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.messagesList, cmd = m.messagesList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = m.prevView
			return m, nil
		}
		var cmd tea.Cmd
		m.messagesList, cmd = m.messagesList.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *AppModel) enterSender() (tea.Model, tea.Cmd) {
	selected := m.sendersList.SelectedItem()
	if selected == nil {
		return m, nil
	}
	row := selected.(senderItem).SenderTotal
	m.status = "Loading messages..."
	title := fmt.Sprintf("%s (%s)", row.Sender, humanize.IBytes(uint64(row.TotalBytes)))
	return m, m.messagesCmd(title, func(rec model.MessageRecord) bool {
		return rec.Sender == row.Sender
	})
}

func (m *AppModel) enterMonth() (tea.Model, tea.Cmd) {
	selected := m.monthsList.SelectedItem()
	if selected == nil {
		return m, nil
	}
	row := selected.(monthItem).MonthTotal
	m.status = "Loading messages..."
	title := fmt.Sprintf("%s (%s)", row.Month, humanize.IBytes(uint64(row.TotalBytes)))
	return m, m.messagesCmd(title, func(rec model.MessageRecord) bool {
		return rec.Month() == row.Month
	})
}

var statusStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245"))

func (m *AppModel) statusBar() string {
	line := fmt.Sprintf("fetched %d  pending %d  failed %d  %s indexed",
		m.counts[model.StatusDone],
		m.counts[model.StatusPending],
		m.counts[model.StatusFailed],
		humanize.IBytes(uint64(m.bytes)))
	if m.status != "" {
		line += "  " + m.status
	}
	return statusStyle.Render(line)
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	if m.Err != nil {
		return "Error: " + m.Err.Error() + "\n"
	}
	if m.view == viewLoading {
		if m.status != "" {
			return m.status + "\n"
		}
		return "Loading...\n"
	}

	var b strings.Builder
	switch m.view {
	case viewSenders:
		b.WriteString(m.sendersList.View())
		b.WriteString("\n")
		b.WriteString(sendersFooter())
	case viewMonths:
		b.WriteString(m.monthsList.View())
		b.WriteString("\n")
		b.WriteString(monthsFooter())
	case viewMessages:
		b.WriteString(m.messagesList.View())
		b.WriteString("\n")
		b.WriteString(messagesFooter())
	}

	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}
