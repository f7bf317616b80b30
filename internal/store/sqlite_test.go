package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gmaildu/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func refs(ids ...string) []model.ListedRef {
	out := make([]model.ListedRef, len(ids))
	for i, id := range ids {
		out[i] = model.ListedRef{ID: id, ThreadID: "t-" + id}
	}
	return out
}

func TestUpsertPendingIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertPending(ctx, refs("m1", "m2")); err != nil {
		t.Fatalf("UpsertPending: %v", err)
	}
	if err := s.UpsertPending(ctx, refs("m1", "m2", "m3")); err != nil {
		t.Fatalf("UpsertPending again: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusPending] != 3 {
		t.Fatalf("pending = %d; want 3", counts[model.StatusPending])
	}
}

func TestUpsertPendingKeepsDone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1"))
	d := model.Details{
		SizeBytes: 2048,
		Sender:    "a@example.com",
		Subject:   "receipt",
		SentAt:    time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	if err := s.MarkDone(ctx, "m1", d); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	// Re-listing the same id must not demote it back to pending.
	if err := s.UpsertPending(ctx, refs("m1")); err != nil {
		t.Fatalf("UpsertPending: %v", err)
	}

	rec, err := s.Message(ctx, "m1")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if rec.Status != model.StatusDone {
		t.Fatalf("status = %s; want done", rec.Status)
	}
	if rec.SizeBytes != 2048 || rec.Sender != "a@example.com" || rec.Subject != "receipt" {
		t.Fatalf("details lost: %+v", rec)
	}
	if !rec.SentAt.Equal(d.SentAt) {
		t.Fatalf("SentAt = %v; want %v", rec.SentAt, d.SentAt)
	}
}

func TestMarkFailed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1", "m2"))
	if err := s.MarkFailed(ctx, "m1", "message not found"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	failed, err := s.FailedMessages(ctx)
	if err != nil {
		t.Fatalf("FailedMessages: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "m1" || failed[0].Reason != "message not found" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestPendingIDsAfterPages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("a", "b", "c", "d"))
	s.MarkDone(ctx, "b", model.Details{SizeBytes: 1, Sender: "x@y.z", SentAt: time.Now()})

	first, err := s.PendingIDsAfter(ctx, "", 2)
	if err != nil {
		t.Fatalf("PendingIDsAfter: %v", err)
	}
	if len(first) != 2 || first[0] != "a" || first[1] != "c" {
		t.Fatalf("first batch = %v", first)
	}

	second, err := s.PendingIDsAfter(ctx, first[1], 2)
	if err != nil {
		t.Fatalf("PendingIDsAfter: %v", err)
	}
	if len(second) != 1 || second[0] != "d" {
		t.Fatalf("second batch = %v", second)
	}

	third, _ := s.PendingIDsAfter(ctx, second[0], 2)
	if len(third) != 0 {
		t.Fatalf("third batch = %v; want empty", third)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cur, err := s.Cursor(ctx, "larger:1M")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cur.Query != "larger:1M" || cur.PageToken != "" || cur.ListingComplete || cur.Listed != 0 {
		t.Fatalf("fresh cursor = %+v", cur)
	}

	cur.PageToken = "tokB"
	cur.Listed = 160
	if err := s.SaveCursor(ctx, cur); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}

	got, _ := s.Cursor(ctx, "larger:1M")
	if got.PageToken != "tokB" || got.Listed != 160 || got.ListingComplete {
		t.Fatalf("cursor = %+v", got)
	}

	got.ListingComplete = true
	got.PageToken = ""
	s.SaveCursor(ctx, got)
	got, _ = s.Cursor(ctx, "larger:1M")
	if !got.ListingComplete || got.PageToken != "" {
		t.Fatalf("cursor after complete = %+v", got)
	}

	// Cursors are per query.
	other, _ := s.Cursor(ctx, "older_than:1y")
	if other.Listed != 0 || other.ListingComplete {
		t.Fatalf("other query cursor = %+v", other)
	}
}

func TestForEachDone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1", "m2", "m3"))
	s.MarkDone(ctx, "m1", model.Details{SizeBytes: 10, Sender: "a@b.c", SentAt: time.Now()})
	s.MarkDone(ctx, "m3", model.Details{SizeBytes: 30, Sender: "a@b.c", SentAt: time.Now()})

	var seen []string
	err := s.ForEachDone(ctx, func(rec model.MessageRecord) error {
		seen = append(seen, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachDone: %v", err)
	}
	if len(seen) != 2 || seen[0] != "m1" || seen[1] != "m3" {
		t.Fatalf("seen = %v", seen)
	}

	stop := errors.New("stop")
	count := 0
	err = s.ForEachDone(ctx, func(model.MessageRecord) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if count != 1 {
		t.Fatalf("fn ran %d times after error; want 1", count)
	}
}

func TestMarkLabeledSubset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1", "m2", "m3"))
	if err := s.MarkLabeled(ctx, []string{"m1", "m3"}); err != nil {
		t.Fatalf("MarkLabeled: %v", err)
	}

	for id, want := range map[string]bool{"m1": true, "m2": false, "m3": true} {
		rec, err := s.Message(ctx, id)
		if err != nil {
			t.Fatalf("Message(%s): %v", id, err)
		}
		if rec.Marked != want {
			t.Fatalf("marked[%s] = %v; want %v", id, rec.Marked, want)
		}
	}
}

func TestDoneIDSelectors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1", "m2", "m3", "m4", "m5"))
	jan := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	s.MarkDone(ctx, "m1", model.Details{SizeBytes: 1, Sender: "a@x.com", SentAt: jan})
	s.MarkDone(ctx, "m2", model.Details{SizeBytes: 1, Sender: "b@x.com", SentAt: jan})
	s.MarkDone(ctx, "m3", model.Details{SizeBytes: 1, Sender: "a@x.com", SentAt: feb})
	s.MarkDone(ctx, "m5", model.Details{SizeBytes: 1, Sender: "c@x.com"})
	// m4 stays pending and must never be selected.

	bySender, err := s.DoneIDsBySender(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("DoneIDsBySender: %v", err)
	}
	if len(bySender) != 2 || bySender[0] != "m1" || bySender[1] != "m3" {
		t.Fatalf("bySender = %v", bySender)
	}

	byMonth, err := s.DoneIDsByMonth(ctx, "2024-01")
	if err != nil {
		t.Fatalf("DoneIDsByMonth: %v", err)
	}
	if len(byMonth) != 2 || byMonth[0] != "m1" || byMonth[1] != "m2" {
		t.Fatalf("byMonth = %v", byMonth)
	}

	// Dateless rows live under the unknown bucket, not under 1970-01.
	unknown, err := s.DoneIDsByMonth(ctx, model.UnknownMonth)
	if err != nil {
		t.Fatalf("DoneIDsByMonth(unknown): %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "m5" {
		t.Fatalf("unknown bucket = %v", unknown)
	}
	if epoch, _ := s.DoneIDsByMonth(ctx, "1970-01"); len(epoch) != 0 {
		t.Fatalf("1970-01 = %v; want empty", epoch)
	}
}

func TestRunsHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, ok, err := s.LastRun(ctx)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if ok {
		t.Fatal("expected no runs yet")
	}

	run := model.ScanRun{
		ID:        "run-1",
		Query:     "",
		StartedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	run.FinishedAt = run.StartedAt.Add(time.Minute)
	run.Listed, run.Fetched, run.Failed, run.Remaining = 100, 98, 1, 1
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, ok, err := s.LastRun(ctx)
	if err != nil || !ok {
		t.Fatalf("LastRun: ok=%v err=%v", ok, err)
	}
	if got.ID != "run-1" || got.Fetched != 98 || got.Remaining != 1 {
		t.Fatalf("run = %+v", got)
	}
	if !got.FinishedAt.Equal(run.FinishedAt) {
		t.Fatalf("FinishedAt = %v; want %v", got.FinishedAt, run.FinishedAt)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, refs("m1"))
	s.SaveCursor(ctx, model.ScanCursor{Query: "", PageToken: "tok", Listed: 1})
	s.RecordRun(ctx, model.ScanRun{ID: "run-1", StartedAt: time.Now()})

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	counts, _ := s.CountByStatus(ctx)
	if counts.Total() != 0 {
		t.Fatalf("messages remain after reset: %v", counts)
	}
	cur, _ := s.Cursor(ctx, "")
	if cur.PageToken != "" || cur.Listed != 0 {
		t.Fatalf("cursor remains after reset: %+v", cur)
	}
	if _, ok, _ := s.LastRun(ctx); ok {
		t.Fatal("runs remain after reset")
	}
	if _, err := s.Message(ctx, "m1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("Message after reset: %v", err)
	}
}
