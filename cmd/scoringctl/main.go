// Package main provides scoringctl, a command line front end to the vendor
// scoring engine. It loads an evaluation dataset, seeds the configured store
// and prints rankings, breakdowns, the traceability matrix, variance and
// anomaly reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/store"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/application"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/dataset"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

const appName = "scoringctl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	datasetPath string
	logLevel    string
	format      string
	lang        string

	stdout io.Writer
	stderr io.Writer
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Inspect vendor evaluation scores",
		Long: `scoringctl loads an evaluation dataset into the scoring engine and
reports on it: weighted vendor ranking, per-category breakdown, the
requirement traceability matrix, evaluator variance and price, schedule
and score anomalies.

Configuration comes from an optional YAML file overlaid by SCORING_*
environment variables and a .env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := application.ParseEnum("format", opts.format, []string{"text", "json"}); err != nil {
				return err
			}
			_, err := language.Parse(opts.lang)
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Engine config file (YAML)")
	pf.StringVarP(&opts.datasetPath, "dataset", "d", "", "Evaluation dataset file (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVarP(&opts.format, "format", "o", "text", "Output format (text, json)")
	pf.StringVar(&opts.lang, "lang", "en", "Language tag for number formatting")

	cmd.AddCommand(
		rankCmd(opts),
		breakdownCmd(opts),
		matrixCmd(opts),
		varianceCmd(opts),
		anomaliesCmd(opts),
		sweepCmd(opts),
		sampleCmd(opts),
	)
	return cmd
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(o.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

func (o *options) renderer() *renderer {
	return newRenderer(o.stdout, language.Make(o.lang), o.format == "json")
}

// session is an engine seeded with one dataset.
type session struct {
	engine       *application.Engine
	evaluationID string
	runtime      *application.Runtime
}

func (s *session) Close(ctx context.Context) error { return s.runtime.Close(ctx) }

// open loads configuration and dataset, bootstraps the runtime and seeds
// it. A store that already holds the evaluation only gets the catalog.
func (o *options) open(ctx context.Context) (*session, error) {
	if o.datasetPath == "" {
		return nil, errors.New("--dataset is required")
	}
	logger := o.logger()

	loader, err := application.NewFileConfigLoader(o.configPath, application.WithLoaderLogger(logger))
	if err != nil {
		return nil, err
	}
	var cfg application.EngineConfig
	if err := loader.Load(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	ds, err := dataset.Load(o.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	catalog := store.NewMemoryCatalog()
	rt, err := application.Bootstrap(ctx, cfg, catalog, catalog, application.RuntimeOptions{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
		ClientName: appName,
	})
	if err != nil {
		return nil, err
	}

	_, err = rt.Store.GetEvaluation(ctx, ds.Evaluation.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if _, err := dataset.Seed(ctx, ds, rt.Store, catalog); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("seed dataset: %w", err)
		}
	case err != nil:
		_ = rt.Close(ctx)
		return nil, err
	default:
		logger.Info("evaluation already stored, seeding catalog only", "evaluation_id", ds.Evaluation.ID)
		dataset.SeedCatalog(ds, catalog)
	}
	return &session{engine: rt.Engine, evaluationID: ds.Evaluation.ID, runtime: rt}, nil
}

// withSession opens a session for the duration of fn.
func (o *options) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session, r *renderer) error) error {
	ctx := cmd.Context()
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			o.logger().Warn("close failed", "error", cerr)
		}
	}()
	return fn(ctx, s, o.renderer())
}
