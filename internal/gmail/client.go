package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	gmailv1 "google.golang.org/api/gmail/v1"

	"gmaildu/internal/model"
	"gmaildu/internal/util"
)

const user = "me"

// maxBatchModifyIDs is the Gmail cap on ids per batchModify request.
const maxBatchModifyIDs = 1000

// Config tunes outbound behavior. Zero fields fall back to defaults.
type Config struct {
	Concurrency int   // simultaneous in-flight API calls
	PageSize    int64 // listing page size
	MaxAttempts int   // attempt cap per call, retries included
	RetryBase   time.Duration
	RetryCap    time.Duration
}

// Client wraps the Gmail API with a concurrency cap and retry policy. It
// holds no local state beyond configuration; all persistence belongs to the
// caller.
type Client struct {
	svc *gmailv1.Service
	sem *semaphore.Weighted
	cfg Config
	log *slog.Logger
}

func NewClient(svc *gmailv1.Service, cfg Config, log *slog.Logger) *Client {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 16
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 500
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 6
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		svc: svc,
		sem: semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg: cfg,
		log: log,
	}
}

// ListPage is one page of a message listing.
type ListPage struct {
	Refs         []model.ListedRef
	NextToken    string // "" when this is the final page
	SizeEstimate int64  // remote's rough total for the query, 0 if unknown
}

// ListPage requests a single page of message ids matching query. An empty
// pageToken starts from the beginning.
func (c *Client) ListPage(ctx context.Context, query, pageToken string) (ListPage, error) {
	var page ListPage
	err := c.withRetry(ctx, "list messages", func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)

		call := c.svc.Users.Messages.List(user).
			MaxResults(c.cfg.PageSize).
			Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}

		page = ListPage{
			NextToken:    resp.NextPageToken,
			SizeEstimate: resp.ResultSizeEstimate,
			Refs:         make([]model.ListedRef, 0, len(resp.Messages)),
		}
		for _, m := range resp.Messages {
			page.Refs = append(page.Refs, model.ListedRef{ID: m.Id, ThreadID: m.ThreadId})
		}
		return nil
	})
	return page, err
}

// FetchDetails retrieves the metadata for one message: size, normalized
// sender, subject, and sent time.
func (c *Client) FetchDetails(ctx context.Context, id string) (model.Details, error) {
	var d model.Details
	err := c.withRetry(ctx, "get message "+id, func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)

		msg, err := c.svc.Users.Messages.Get(user, id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}

		var from, subject string
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				from = h.Value
			case "subject":
				subject = h.Value
			}
		}
		d = model.Details{
			SizeBytes: msg.SizeEstimate,
			Sender:    util.SenderKey(from),
			Subject:   subject,
		}
		if d.Sender == "" {
			d.Sender = "unknown"
		}
		if msg.InternalDate > 0 {
			d.SentAt = time.UnixMilli(msg.InternalDate).UTC()
		}
		return nil
	})
	return d, err
}

// ApplyLabel resolves labelName (creating the label when absent) and adds it
// to every id, batching requests under the API cap.
func (c *Client) ApplyLabel(ctx context.Context, ids []string, labelName string) error {
	if len(ids) == 0 {
		return nil
	}
	labelID, err := c.ensureLabel(ctx, labelName)
	if err != nil {
		return err
	}

	for start := 0; start < len(ids); start += maxBatchModifyIDs {
		chunk := ids[start:min(start+maxBatchModifyIDs, len(ids))]
		req := &gmailv1.BatchModifyMessagesRequest{
			Ids:         chunk,
			AddLabelIds: []string{labelID},
		}
		err := c.withRetry(ctx, "batch modify", func() error {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)
			return c.svc.Users.Messages.BatchModify(user, req).Context(ctx).Do()
		})
		if err != nil {
			return fmt.Errorf("apply label %q: %w", labelName, err)
		}
	}
	return nil
}

// ensureLabel returns the id of the user label with the given name, creating
// it on first use.
func (c *Client) ensureLabel(ctx context.Context, name string) (string, error) {
	var id string
	err := c.withRetry(ctx, "list labels", func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)

		resp, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, l := range resp.Labels {
			if strings.EqualFold(l.Name, name) {
				id = l.Id
				return nil
			}
		}
		return nil
	})
	if err != nil || id != "" {
		return id, err
	}

	err = c.withRetry(ctx, "create label", func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)

		l, err := c.svc.Users.Labels.Create(user, &gmailv1.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = l.Id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	return id, nil
}
