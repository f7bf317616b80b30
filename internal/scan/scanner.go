package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gmaildu/internal/gmail"
	"gmaildu/internal/model"
	"gmaildu/internal/store"
	"gmaildu/internal/util"
)

// progressEvery is how many fetch results pass between progress callbacks.
const progressEvery = 50

// Remote is the slice of the Gmail client the scanner depends on.
type Remote interface {
	ListPage(ctx context.Context, query, pageToken string) (gmail.ListPage, error)
	FetchDetails(ctx context.Context, id string) (model.Details, error)
	ApplyLabel(ctx context.Context, ids []string, labelName string) error
}

// Config sizes the fetch stage. Zero fields fall back to defaults.
type Config struct {
	FetchWorkers int // concurrent detail fetches
	FetchBatch   int // pending ids pulled from the store per page
}

// Scanner drives the two-stage crawl: list ids behind a persisted page
// cursor, then resolve every pending id with a worker pool. Each stage
// persists before it advances, so an interrupted run resumes where it
// stopped instead of repeating remote work.
type Scanner struct {
	store  *store.Store
	remote Remote
	cfg    Config
	log    *slog.Logger
}

func New(st *store.Store, remote Remote, cfg Config, log *slog.Logger) *Scanner {
	if cfg.FetchWorkers < 1 {
		cfg.FetchWorkers = 16
	}
	if cfg.FetchBatch < 1 {
		cfg.FetchBatch = 500
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{store: st, remote: remote, cfg: cfg, log: log}
}

// Summary reports what one Scan call did. Listed counts ids recorded by the
// listing stage this run; Remaining counts pending rows left for a future
// run.
type Summary struct {
	Query     string
	Listed    int
	Fetched   int
	Failed    int
	Deferred  int
	Remaining int
}

// Scan runs both stages for query. limit caps how many ids the listing stage
// may ever record for this query, across runs; limit <= 0 means unbounded.
// progress may be nil.
func (s *Scanner) Scan(ctx context.Context, query string, limit int, progress func(model.Progress)) (Summary, error) {
	if progress == nil {
		progress = func(model.Progress) {}
	}
	sum := Summary{Query: query}
	run := model.ScanRun{ID: uuid.NewString(), Query: query, StartedAt: time.Now().UTC()}
	if err := s.store.RecordRun(ctx, run); err != nil {
		return sum, fmt.Errorf("record run: %w", err)
	}

	if err := s.runListing(ctx, query, limit, &sum, progress); err != nil {
		return sum, err
	}
	if err := s.runFetching(ctx, &sum, progress); err != nil {
		return sum, err
	}

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return sum, fmt.Errorf("count statuses: %w", err)
	}
	sum.Remaining = counts[model.StatusPending]

	run.FinishedAt = time.Now().UTC()
	run.Listed = sum.Listed
	run.Fetched = sum.Fetched
	run.Failed = sum.Failed
	run.Remaining = sum.Remaining
	if err := s.store.FinishRun(ctx, run); err != nil {
		return sum, fmt.Errorf("finish run: %w", err)
	}
	return sum, nil
}

// runListing walks the remote listing from the persisted cursor, recording
// each page's ids before saving the advanced cursor. A page the limit cuts
// short does not advance the cursor, so raising the limit later re-lists
// that page and the idempotent insert picks up the remainder.
func (s *Scanner) runListing(ctx context.Context, query string, limit int, sum *Summary, progress func(model.Progress)) error {
	cur, err := s.store.Cursor(ctx, query)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cur.ListingComplete {
		return nil
	}

	for {
		if limit > 0 && cur.Listed >= limit {
			s.log.Debug("listing limit reached", "query", query, "listed", cur.Listed)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.remote.ListPage(ctx, query, cur.PageToken)
		if err != nil {
			if errors.Is(err, gmail.ErrAuth) || ctx.Err() != nil {
				return err
			}
			// The cursor still points at this page; the next run retries
			// it. Anything already recorded can be fetched meanwhile.
			s.log.Warn("listing stalled, moving on to fetch stage", "query", query, "err", err)
			return nil
		}

		refs := page.Refs
		advance := true
		if limit > 0 && cur.Listed+len(refs) > limit {
			refs = refs[:limit-cur.Listed]
			advance = false
		}
		if err := s.store.UpsertPending(ctx, refs); err != nil {
			return fmt.Errorf("record listed ids: %w", err)
		}

		cur.Listed += len(refs)
		sum.Listed += len(refs)
		if advance {
			cur.PageToken = page.NextToken
			cur.ListingComplete = page.NextToken == ""
		}
		if err := s.store.SaveCursor(ctx, cur); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}

		total := int(page.SizeEstimate)
		if limit > 0 && (total == 0 || limit < total) {
			total = limit
		}
		progress(model.Progress{Phase: "listing", Done: cur.Listed, Total: total})

		if cur.ListingComplete || !advance {
			return nil
		}
	}
}

type fetchResult struct {
	id      string
	details model.Details
	err     error
}

// runFetching resolves pending ids with a pool of workers. A pager goroutine
// feeds ids in id order from the store; because ids that fail retryably stay
// pending but sit at or below the pager's high-water mark, each id is
// dispatched at most once per run.
func (s *Scanner) runFetching(ctx context.Context, sum *Summary, progress func(model.Progress)) error {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count statuses: %w", err)
	}
	total := counts[model.StatusPending]
	if total == 0 {
		return nil
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	results := make(chan fetchResult)
	pagerErr := make(chan error, 1)

	go func() {
		defer close(jobs)
		after := ""
		for {
			ids, err := s.store.PendingIDsAfter(fctx, after, s.cfg.FetchBatch)
			if err != nil {
				pagerErr <- fmt.Errorf("page pending ids: %w", err)
				return
			}
			if len(ids) == 0 {
				pagerErr <- nil
				return
			}
			for _, id := range ids {
				select {
				case jobs <- id:
				case <-fctx.Done():
					pagerErr <- nil
					return
				}
			}
			after = ids[len(ids)-1]
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.FetchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if fctx.Err() != nil {
					return
				}
				d, err := s.remote.FetchDetails(fctx, id)
				select {
				case results <- fetchResult{id: id, details: d, err: err}:
				case <-fctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Results persist under a detached context: a fetch that finished
	// before cancellation still lands in the store.
	writeCtx := context.WithoutCancel(ctx)
	processed := 0
	var failErr error

	for res := range results {
		if failErr != nil {
			continue
		}
		if res.err != nil {
			switch {
			case errors.Is(res.err, gmail.ErrNotFound):
				if err := s.store.MarkFailed(writeCtx, res.id, res.err.Error()); err != nil {
					failErr = fmt.Errorf("mark failed: %w", err)
					cancel()
					continue
				}
				sum.Failed++
			case errors.Is(res.err, gmail.ErrAuth):
				failErr = res.err
				cancel()
				continue
			case errors.Is(res.err, context.Canceled), errors.Is(res.err, context.DeadlineExceeded):
				// Canceled mid-flight; the id stays pending.
			default:
				sum.Deferred++
				s.log.Warn("fetch deferred", "id", res.id, "err", res.err)
			}
		} else {
			if err := s.store.MarkDone(writeCtx, res.id, res.details); err != nil {
				failErr = fmt.Errorf("record details: %w", err)
				cancel()
				continue
			}
			sum.Fetched++
		}
		processed++
		if processed%progressEvery == 0 {
			progress(model.Progress{Phase: "fetching", Done: processed, Total: total})
		}
	}

	if err := <-pagerErr; err != nil && failErr == nil {
		failErr = err
	}
	if failErr != nil {
		return failErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	progress(model.Progress{Phase: "fetching", Done: processed, Total: total})
	return nil
}

// Selector picks the fetched messages a label lands on. Exactly one field
// should be set.
type Selector struct {
	Sender string
	Month  string // "2024-01"
	ID     string
}

// Mark applies labelName to the messages sel picks, then records which rows
// were labeled. The local mark is written only after the remote accepted
// every batch; an interrupted call leaves rows unmarked, and re-running
// labels them again, which the remote treats as a no-op.
func (s *Scanner) Mark(ctx context.Context, sel Selector, labelName string) (int, error) {
	ids, err := s.resolve(ctx, sel)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.remote.ApplyLabel(ctx, ids, labelName); err != nil {
		return 0, err
	}
	if err := s.store.MarkLabeled(context.WithoutCancel(ctx), ids); err != nil {
		return 0, fmt.Errorf("record labels: %w", err)
	}
	return len(ids), nil
}

func (s *Scanner) resolve(ctx context.Context, sel Selector) ([]string, error) {
	switch {
	case sel.ID != "":
		rec, err := s.store.Message(ctx, sel.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s is not in the local index", sel.ID)
		}
		if err != nil {
			return nil, err
		}
		if rec.Status != model.StatusDone {
			return nil, fmt.Errorf("message %s has status %s; only fetched messages can be labeled", sel.ID, rec.Status)
		}
		return []string{sel.ID}, nil
	case sel.Sender != "":
		key := util.SenderKey(sel.Sender)
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(sel.Sender))
		}
		return s.store.DoneIDsBySender(ctx, key)
	case sel.Month != "":
		return s.store.DoneIDsByMonth(ctx, sel.Month)
	}
	return nil, errors.New("empty selector")
}

// Reset drops every message row, cursor, and run record.
func (s *Scanner) Reset(ctx context.Context) error {
	return s.store.Reset(ctx)
}
