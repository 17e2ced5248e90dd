// Command scoutload loads a denormalized transaction CSV export into the
// normalized retail analytics schema.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scoutetl/internal/config"
	"scoutetl/internal/engine"
	"scoutetl/internal/metrics"
	ddmetrics "scoutetl/internal/metrics/datadog"
	csvparser "scoutetl/internal/parser/csv"
	"scoutetl/internal/record"
	"scoutetl/internal/storage"

	_ "scoutetl/internal/storage/mssql"
	_ "scoutetl/internal/storage/postgres"
	_ "scoutetl/internal/storage/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scoutload",
		Short:         "Normalizing batch loader for retail transaction exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(loadCmd())
	return root
}

func loadCmd() *cobra.Command {
	var (
		cfgPath   string
		filePath  string
		dsn       string
		kind      string
		workers   int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run the two-pass load against the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Local development convenience; absence of .env is not an error.
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if filePath != "" {
				cfg.Source.File.Path = filePath
			}
			if dsn != "" {
				cfg.Storage.DSN = os.ExpandEnv(dsn)
			}
			if kind != "" {
				cfg.Storage.Kind = kind
			}
			if workers > 0 {
				cfg.Runtime.LoaderWorkers = workers
			}
			if batchSize > 0 {
				cfg.Runtime.BatchSize = batchSize
			}

			return runLoad(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "pipeline.json", "pipeline config file")
	cmd.Flags().StringVar(&filePath, "file", "", "override source.file.path")
	cmd.Flags().StringVar(&dsn, "dsn", "", "override storage.dsn (env-expanded)")
	cmd.Flags().StringVar(&kind, "kind", "", "override storage.kind")
	cmd.Flags().IntVar(&workers, "workers", 0, "override runtime.loader_workers")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override runtime.batch_size")
	return cmd
}

func runLoad(parent context.Context, cfg *config.Pipeline) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zl.Sync()
	logger := zap.NewStdLog(zl)

	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	var mb metrics.Backend = metrics.Nop{}
	if cfg.Datadog.Enabled {
		b, err := ddmetrics.NewBackend(ctx, ddmetrics.Options{
			JobName: cfg.Job,
			Tags:    ddmetrics.ParseTagsCSV(cfg.Datadog.Tags),
		})
		if err != nil {
			return fmt.Errorf("init datadog metrics: %w", err)
		}
		defer b.Close()
		mb = b
	}

	eng := &engine.Engine{
		Repo:    repo,
		Logger:  logger,
		Metrics: mb,
		Stream:  fileStream(cfg, logger),
	}

	rep, err := eng.Run(ctx, engine.Options{
		BatchSize: cfg.Runtime.BatchSize,
		Workers:   cfg.Runtime.LoaderWorkers,
		Views:     cfg.Views,
	})
	if rep != nil {
		logger.Printf("stage=report rows=%d brands=%d products=%d stores=%d customers=%d campaigns=%d batches=%d transactions=%d items=%d audio=%d video=%d",
			rep.RowsSeen, rep.Brands, rep.Products, rep.Stores, rep.Customers,
			rep.Campaigns, rep.Facts.Batches, rep.Facts.Transactions,
			rep.Facts.Items, rep.Facts.Audio, rep.Facts.Video)
	}
	return err
}

// fileStream opens the configured CSV export once per pass. Malformed rows
// are logged and skipped; only I/O and header errors end the stream.
func fileStream(cfg *config.Pipeline, logger engine.Logger) engine.StreamFn {
	return func(ctx context.Context) (*record.Stream, error) {
		f, err := os.Open(cfg.Source.File.Path)
		if err != nil {
			return nil, err
		}

		opt := csvparser.DefaultOptions()
		opt.Encoding = cfg.Source.File.Encoding

		onErr := func(line int, err error) {
			logger.Printf("stage=parse skip line=%d err=%v", line, err)
		}

		rows := make(chan *record.Row, cfg.Runtime.ChannelBuffer)
		errc := make(chan error, 1)
		go func() {
			defer close(rows)
			errc <- csvparser.StreamRecords(ctx, f, opt, rows, onErr)
		}()
		return record.NewStream(rows, func() error { return <-errc }), nil
	}
}
