package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/pipeline"
	"github.com/ppiankov/placemaster/internal/worker"
)

var (
	ingestWorkers  int
	verifyMentions bool
	exportPath     string
	metricsAddr    string
	ingestTimeout  time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <spans-file>...",
	Short: "Resolve and record extracted place spans in parallel",
	Long: `Ingest reads span files produced by the extractor (JSONL or TSV),
resolves each span to its master and records the mention:
- Spans are processed concurrently with a bounded worker pool
- Transient oracle failures are retried with exponential backoff
- Rejected and invalid spans are counted and skipped
- Re-ingesting the same files leaves usage statistics unchanged

Example:
  placemaster ingest spans.jsonl
  placemaster ingest a.jsonl b.tsv --workers 8 --verify-mentions
  placemaster ingest spans.jsonl --export masters.jsonl --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "number of concurrent workers (default: concurrency.workers)")
	ingestCmd.Flags().BoolVar(&verifyMentions, "verify-mentions", false, "verify each new mention in its sentence with the validation oracle")
	ingestCmd.Flags().StringVar(&exportPath, "export", "", "write created masters as JSON lines to this file")
	ingestCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during ingest")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 0, "total timeout for ingestion (0 = none)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if ingestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ingestTimeout)
		defer cancel()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	workers := ingestWorkers
	if workers <= 0 {
		workers = a.cfg.Concurrency.Workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	a.serveMetrics(ctx, addr)

	opts := pipeline.Options{
		Masters: a.store,
		Retry: oracle.RetryPolicy{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(a.cfg.Retry.BaseBackoff) * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
		Logger: a.log,
	}
	if verifyMentions {
		if a.validator == nil {
			return fmt.Errorf("--verify-mentions needs an llm provider (llm.provider)")
		}
		opts.Verifier = a.validator
	}

	var projector *pipeline.JSONLProjector
	if exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		projector = pipeline.NewJSONLProjector(f)
		defer func() { _ = projector.Close() }()
		opts.Projector = projector
	}

	p := pipeline.New(a.resolver, a.recorder, opts)
	processor := worker.NewBatchProcessor(p, workers)
	processor.OnResult = func(r *worker.SpanResult) {
		if r.Error != nil {
			a.log.Warn("span failed", "span_id", r.Span.SpanID, "text", r.Span.Text, "error", r.Error)
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Placemaster Ingest\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input files:  %d\n", len(args))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Validation:   %v\n", a.validator != nil)
	fmt.Fprintf(os.Stderr, "  Geocoding:    %v\n", a.geocoder != nil)
	fmt.Fprintf(os.Stderr, "\n")

	start := time.Now()
	results, err := processor.ProcessFiles(ctx, args...)
	if err != nil {
		return err
	}
	summary := pipeline.Summarize(worker.Outcomes(results))

	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Ingest Complete (%v)\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Spans:            %d\n", summary.Processed)
	fmt.Fprintf(os.Stderr, "  Masters created:  %d\n", summary.CreatedMasters)
	fmt.Fprintf(os.Stderr, "  Recorded:         %d\n", summary.Recorded)
	fmt.Fprintf(os.Stderr, "  Duplicates:       %d\n", summary.Duplicates)
	fmt.Fprintf(os.Stderr, "  Rejected:         %d\n", summary.Rejected)
	fmt.Fprintf(os.Stderr, "  Invalid:          %d\n", summary.Invalid)
	fmt.Fprintf(os.Stderr, "  Failed:           %d\n", summary.Failed)
	if verifyMentions {
		fmt.Fprintf(os.Stderr, "  Verified:         %d\n", summary.Verified)
	}
	if projector != nil {
		fmt.Fprintf(os.Stderr, "  Exported:         %d (%s)\n", projector.Count(), exportPath)
	}
	fmt.Fprintf(os.Stderr, "\n")

	a.log.Info("ingest finished", "summary", summary.String())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest interrupted: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d spans failed", summary.Failed, summary.Processed)
	}
	return nil
}
