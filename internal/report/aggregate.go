package report

import (
	"context"
	"sort"

	"gmaildu/internal/model"
	"gmaildu/internal/store"
)

// Aggregator computes rollups over fetched messages. It reads snapshots only
// and is safe to run while a scan writes.
type Aggregator struct {
	store *store.Store
}

func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Totals returns the count and byte total of every fetched message.
func (a *Aggregator) Totals(ctx context.Context) (int, int64, error) {
	var count int
	var bytes int64
	err := a.store.ForEachDone(ctx, func(rec model.MessageRecord) error {
		count++
		bytes += rec.SizeBytes
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return count, bytes, nil
}

// BySender rolls up fetched messages per sender, largest byte total first,
// ties in sender order. top <= 0 returns every sender.
func (a *Aggregator) BySender(ctx context.Context, top int) ([]model.SenderTotal, error) {
	acc := map[string]*model.SenderTotal{}
	err := a.store.ForEachDone(ctx, func(rec model.MessageRecord) error {
		row, ok := acc[rec.Sender]
		if !ok {
			row = &model.SenderTotal{Sender: rec.Sender}
			acc[rec.Sender] = row
		}
		row.TotalBytes += rec.SizeBytes
		row.Count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]model.SenderTotal, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalBytes != rows[j].TotalBytes {
			return rows[i].TotalBytes > rows[j].TotalBytes
		}
		return rows[i].Sender < rows[j].Sender
	})
	return clipTop(rows, top), nil
}

// ByMonth rolls up fetched messages per UTC year-month, largest byte total
// first, ties in month order. Messages without a usable date land in the
// "unknown" bucket. top <= 0 returns every month.
func (a *Aggregator) ByMonth(ctx context.Context, top int) ([]model.MonthTotal, error) {
	acc := map[string]*model.MonthTotal{}
	err := a.store.ForEachDone(ctx, func(rec model.MessageRecord) error {
		month := rec.Month()
		row, ok := acc[month]
		if !ok {
			row = &model.MonthTotal{Month: month}
			acc[month] = row
		}
		row.TotalBytes += rec.SizeBytes
		row.Count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]model.MonthTotal, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalBytes != rows[j].TotalBytes {
			return rows[i].TotalBytes > rows[j].TotalBytes
		}
		return rows[i].Month < rows[j].Month
	})
	return clipTop(rows, top), nil
}

func clipTop[T any](rows []T, top int) []T {
	if top > 0 && len(rows) > top {
		return rows[:top]
	}
	return rows
}
