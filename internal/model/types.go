package model

import "time"

// FetchStatus is the per-message fetch lifecycle state.
type FetchStatus string

const (
	StatusPending FetchStatus = "pending"
	StatusDone    FetchStatus = "done"
	StatusFailed  FetchStatus = "failed"
)

// ListedRef is the listing-phase view of a message: just the remote identifiers.
type ListedRef struct {
	ID       string
	ThreadID string
}

// Details holds the metadata returned by a successful detail fetch.
type Details struct {
	SizeBytes int64
	Sender    string // normalized email address
	Subject   string
	SentAt    time.Time
}

// MessageRecord is one row of the local inventory.
type MessageRecord struct {
	ID         string
	ThreadID   string
	SizeBytes  int64
	Sender     string
	Subject    string
	SentAt     time.Time
	Status     FetchStatus
	FailReason string
	Marked     bool
}

// UnknownMonth is the bucket for records whose sent date was never
// populated.
const UnknownMonth = "unknown"

// Month returns the record's UTC year-month key ("2024-01"), or UnknownMonth
// when the sent date was never populated.
func (r MessageRecord) Month() string {
	if r.SentAt.IsZero() {
		return UnknownMonth
	}
	return r.SentAt.UTC().Format("2006-01")
}

// ScanCursor is the persisted listing position for one query. Listed counts
// ids promoted out of the listing phase so far, across runs, which is what a
// scan limit is enforced against.
type ScanCursor struct {
	Query           string
	PageToken       string
	ListingComplete bool
	Listed          int
}

// StatusCounts maps fetch status to row count.
type StatusCounts map[FetchStatus]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// SenderTotal is one aggregation row: all DONE bytes attributed to a sender.
type SenderTotal struct {
	Sender     string
	TotalBytes int64
	Count      int
}

// MonthTotal is one aggregation row keyed by UTC year-month ("2024-01").
type MonthTotal struct {
	Month      string
	TotalBytes int64
	Count      int
}

// FailedMessage pairs a FAILED id with its recorded reason for summaries.
type FailedMessage struct {
	ID     string
	Reason string
}

// ScanRun records one scan invocation for history surfaces.
type ScanRun struct {
	ID         string
	Query      string
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Fetched    int
	Failed     int
	Remaining  int
}

// Progress is sent from the scanner to its caller as work advances.
// Total is 0 when the remote gave no usable estimate.
type Progress struct {
	Phase string // "listing" or "fetching"
	Done  int
	Total int
}
