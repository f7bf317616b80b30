package tui

import "gmaildu/internal/model"

// Async message types for Bubble Tea commands.

type dataLoadedMsg struct {
	senders []model.SenderTotal
	months  []model.MonthTotal
	counts  model.StatusCounts
	bytes   int64
	err     error
}

type countsTickMsg struct{}

type countsLoadedMsg struct {
	counts model.StatusCounts
	err    error
}

type messagesLoadedMsg struct {
	title string
	recs  []model.MessageRecord
	err   error
}
