package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"gmaildu/internal/config"
	"gmaildu/internal/gmail"
	"gmaildu/internal/model"
	"gmaildu/internal/report"
	"gmaildu/internal/scan"
	"gmaildu/internal/store"
	"gmaildu/internal/tui"
)

const usageText = `gmaildu inventories a Gmail mailbox by storage use.

Usage:
  gmaildu scan   [-q query] [-limit n]        crawl message metadata into the local index
  gmaildu report [-by sender|month] [-top n]  print storage rollups
  gmaildu mark   (-sender addr | -month YYYY-MM | -id msgid) [-label name]
  gmaildu browse                              interactive view of the index
  gmaildu reset  [-force]                     drop all local state

Environment (also read from .env):
  GMAILDU_CONFIG_DIR, GMAILDU_DB, GMAILDU_CONCURRENCY, GMAILDU_PAGE_SIZE,
  GMAILDU_MAX_ATTEMPTS, GMAILDU_RETRY_BASE, GMAILDU_RETRY_CAP, GMAILDU_DEBUG
`

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitAuth  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A missing .env is fine; it only supplies defaults.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usageText)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "scan":
		return cmdScan(ctx, cfg, log, args[1:])
	case "report":
		return cmdReport(ctx, cfg, args[1:])
	case "mark":
		return cmdMark(ctx, cfg, log, args[1:])
	case "browse":
		return cmdBrowse(ctx, cfg)
	case "reset":
		return cmdReset(ctx, cfg, args[1:])
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "gmaildu: unknown command %q\n\n%s", args[0], usageText)
		return exitUsage
	}
}

// openStore opens the local index, pointing the user at reset when the file
// is unusable.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open index at %s: %w (try \"gmaildu reset\" to start over)", cfg.DBPath, err)
	}
	return st, nil
}

func newRemote(ctx context.Context, cfg config.Config, log *slog.Logger) (*gmail.Client, error) {
	svc, err := gmail.NewService(ctx, cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	return gmail.NewClient(svc, gmail.Config{
		Concurrency: cfg.Concurrency,
		PageSize:    cfg.PageSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryBase:   cfg.RetryBase,
		RetryCap:    cfg.RetryCap,
	}, log), nil
}

func printProgress(p model.Progress) {
	if p.Total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s %d/%d        ", p.Phase, p.Done, p.Total)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s %d        ", p.Phase, p.Done)
	}
}

func cmdScan(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	query := fs.String("q", "", "Gmail search query to scope the scan")
	limit := fs.Int("limit", 0, "cap on ids the listing phase records (0 = unbounded)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}
	defer st.Close()

	client, err := newRemote(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitAuth
	}
	sc := scan.New(st, client, scan.Config{FetchWorkers: cfg.Concurrency}, log)

	sum, err := sc.Scan(ctx, *query, *limit, printProgress)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "gmaildu: interrupted; run scan again to resume")
			return exitError
		}
		fmt.Fprintf(os.Stderr, "gmaildu: scan: %v\n", err)
		if errors.Is(err, gmail.ErrAuth) {
			return exitAuth
		}
		return exitError
	}

	fmt.Printf("Listed %d ids, fetched %d, failed %d, deferred %d; %d still pending.\n",
		sum.Listed, sum.Fetched, sum.Failed, sum.Deferred, sum.Remaining)
	if sum.Remaining > 0 {
		fmt.Println("Run scan again to pick up the remainder.")
	}
	failed, err := st.FailedMessages(ctx)
	if err == nil && len(failed) > 0 {
		fmt.Printf("%d message(s) the remote could not serve:\n", len(failed))
		for _, f := range failed {
			fmt.Printf("  %s  %s\n", f.ID, f.Reason)
		}
	}
	return exitOK
}

func cmdReport(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	by := fs.String("by", "sender", "rollup dimension: sender or month")
	top := fs.Int("top", 20, "rows to print (0 = all)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}
	defer st.Close()
	agg := report.New(st)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	switch *by {
	case "sender":
		rows, err := agg.BySender(ctx, *top)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gmaildu: report: %v\n", err)
			return exitError
		}
		fmt.Fprintln(w, "SENDER\tMESSAGES\tSIZE")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\n", r.Sender, r.Count, humanize.IBytes(uint64(r.TotalBytes)))
		}
	case "month":
		rows, err := agg.ByMonth(ctx, *top)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gmaildu: report: %v\n", err)
			return exitError
		}
		fmt.Fprintln(w, "MONTH\tMESSAGES\tSIZE")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\n", r.Month, r.Count, humanize.IBytes(uint64(r.TotalBytes)))
		}
	default:
		fmt.Fprintf(os.Stderr, "gmaildu: unknown rollup %q (want sender or month)\n", *by)
		return exitUsage
	}
	w.Flush()

	count, bytes, err := agg.Totals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: report: %v\n", err)
		return exitError
	}
	fmt.Printf("\n%d messages fetched, %s total.\n", count, humanize.IBytes(uint64(bytes)))

	counts, err := st.CountByStatus(ctx)
	if err == nil && counts[model.StatusPending] > 0 {
		fmt.Printf("%d ids are still pending; totals are partial until a scan finishes.\n",
			counts[model.StatusPending])
	}
	return exitOK
}

func cmdMark(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("mark", flag.ContinueOnError)
	sender := fs.String("sender", "", "label every fetched message from this address")
	month := fs.String("month", "", "label every fetched message in this UTC month (YYYY-MM)")
	id := fs.String("id", "", "label one fetched message by id")
	label := fs.String("label", "gmaildu/marked", "label to apply")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	set := 0
	for _, v := range []string{*sender, *month, *id} {
		if v != "" {
			set++
		}
	}
	if set != 1 || *label == "" {
		fmt.Fprintln(os.Stderr, "gmaildu: mark needs exactly one of -sender, -month, -id, and a non-empty -label")
		return exitUsage
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}
	defer st.Close()

	client, err := newRemote(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitAuth
	}
	sc := scan.New(st, client, scan.Config{}, log)

	n, err := sc.Mark(ctx, scan.Selector{Sender: *sender, Month: *month, ID: *id}, *label)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: mark: %v\n", err)
		if errors.Is(err, gmail.ErrAuth) {
			return exitAuth
		}
		return exitError
	}
	if n == 0 {
		fmt.Println("No fetched messages matched.")
		return exitOK
	}
	fmt.Printf("Labeled %d message(s) with %q.\n", n, *label)
	return exitOK
}

func cmdBrowse(ctx context.Context, cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}
	defer st.Close()

	appModel := tui.NewAppModel(st, report.New(st))
	p := tea.NewProgram(&appModel, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", err)
		return exitError
	}
	if m, ok := finalModel.(*tui.AppModel); ok && m.Err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: %v\n", m.Err)
		return exitError
	}
	return exitOK
}

func cmdReset(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if !*force {
		fmt.Printf("This drops the local index at %s; the mailbox is untouched. Continue? [y/N] ", cfg.DBPath)
		var answer string
		fmt.Scanln(&answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted.")
			return exitOK
		}
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		// Unopenable index: removing the files is the reset of last resort.
		if rmErr := removeIndexFiles(cfg.DBPath); rmErr != nil {
			fmt.Fprintf(os.Stderr, "gmaildu: %v; remove failed: %v\n", err, rmErr)
			return exitError
		}
		fmt.Println("Removed the unreadable index files.")
		return exitOK
	}
	defer st.Close()

	if err := st.Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gmaildu: reset: %v\n", err)
		return exitError
	}
	fmt.Println("Local index cleared.")
	return exitOK
}

func removeIndexFiles(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
