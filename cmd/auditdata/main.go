package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iisqa/internal/audit"
	"iisqa/internal/config"
	"iisqa/internal/dataset"
	"iisqa/internal/issues"
	"iisqa/internal/logging"
	"iisqa/internal/manifest"
	"iisqa/internal/metrics"
)

var (
	cfg        = config.DefaultAuditor()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "auditdata",
	Short: "Audit an immunization registry extract for data quality defects",
	Long: `Reads a vaccination records CSV and writes three tables:

  iis_data_with_quality_flags.csv  every record with its quality flags
  iis_quality_summary.csv          record count per data_quality_flag
  iis_duplicate_patients.csv       identities recorded more than once

A record is an Issue when its administration date precedes the birth date,
its patient/vaccine dose history goes backwards, or its birth date is missing.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := config.Overlay(cmd.Flags(), func() error { return config.LoadAuditor(configPath, &cfg) }); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err := logging.New(cfg.Debug)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, cmd.OutOrStdout(), logger)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file (auditor section)")
	f.StringVarP(&cfg.Input, "input", "i", cfg.Input, "input CSV path")
	f.StringVar(&cfg.FlaggedOutput, "flagged-output", cfg.FlaggedOutput, "flagged records CSV path")
	f.StringVar(&cfg.SummaryOutput, "summary-output", cfg.SummaryOutput, "flag counts CSV path")
	f.StringVar(&cfg.DuplicatesOutput, "duplicates-output", cfg.DuplicatesOutput, "duplicate identities CSV path")
	f.StringVar(&cfg.CompletenessOutput, "completeness-output", "", "write field missing rates to this CSV")
	f.StringVar(&cfg.MetricsTable, "metrics-table", "", "write the summary metric/value table to this CSV")
	f.StringVar(&cfg.StateBackend, "state-backend", cfg.StateBackend, "dose history scratch store: memory|pebble|badger")
	f.StringVar(&cfg.StateDir, "state-dir", "", "parent directory for disk scratch stores (default system temp)")
	f.StringVar(&cfg.IssueSink, "issue-sink", "", "publish issue events: comma list of file,kafka,kafka-tx")
	f.StringVar(&cfg.IssueFile, "issue-file", cfg.IssueFile, "JSONL file for the file sink")
	f.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", "", "kafka bootstrap servers, e.g. localhost:9092")
	f.StringVar(&cfg.IssueTopic, "issue-topic", cfg.IssueTopic, "kafka topic for issue events")
	f.StringVar(&cfg.TransactionalID, "transactional-id", cfg.TransactionalID, "transactional id for the kafka-tx sink")
	f.StringVar(&cfg.ManifestDir, "manifest-dir", "", "write manifest.latest.json to this directory")
	f.StringVar(&cfg.ManifestTopic, "manifest-topic", "", "kafka topic for the run manifest (compacted)")
	f.DurationVar(&cfg.PublishTimeout, "publish-timeout", cfg.PublishTimeout, "timeout for publishing events and manifest")
	f.StringVar(&cfg.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.BoolVar(&cfg.Debug, "debug", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Auditor, out io.Writer, logger *zap.Logger) error {
	start := time.Now()
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("audit started",
		zap.String("input", cfg.Input),
		zap.String("state_backend", cfg.StateBackend),
		zap.Strings("issue_sinks", cfg.Sinks()))

	records, err := dataset.ReadRecords(cfg.Input)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.Input, err)
	}
	logger.Debug("input loaded", zap.Int("records", len(records)))

	rep, err := audit.New(cfg.StateBackend, cfg.StateDir, logger).Run(records)
	if err != nil {
		return err
	}

	outputs := audit.Outputs{
		Flagged:      cfg.FlaggedOutput,
		Summary:      cfg.SummaryOutput,
		Duplicates:   cfg.DuplicatesOutput,
		Completeness: cfg.CompletenessOutput,
		MetricsTable: cfg.MetricsTable,
	}
	written, err := outputs.Write(rep)
	if err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	mreg := metrics.NewRegistry()
	mreg.ObserveAudit(rep.Summary, rep.FlagCounts, rep.Completeness)

	if err := publishIssues(ctx, cfg, runID, rep, mreg, logger); err != nil {
		return err
	}
	if err := publishManifest(ctx, cfg, manifest.RunManifest{
		RunID:     runID,
		Input:     cfg.Input,
		Records:   rep.Summary.TotalRecords,
		Issues:    rep.Summary.IssueRecords,
		Outputs:   written,
		CreatedAt: time.Now().UTC().Unix(),
	}, logger); err != nil {
		return err
	}

	mreg.ObserveRun(time.Since(start))
	if err := mreg.WriteTextfile(cfg.MetricsFile); err != nil {
		return err
	}

	fmt.Fprintf(out, "Data quality audit completed. Results saved to '%s', '%s', and '%s'.\n",
		cfg.FlaggedOutput, cfg.SummaryOutput, cfg.DuplicatesOutput)
	return nil
}

func newIssuePublisher(ctx context.Context, cfg config.Auditor) (issues.Publisher, error) {
	var pubs []issues.Publisher
	for _, s := range cfg.Sinks() {
		switch s {
		case config.SinkFile:
			fw, err := issues.NewFileWriter("", cfg.IssueFile)
			if err != nil {
				return nil, fmt.Errorf("init issue file: %w", err)
			}
			pubs = append(pubs, fw)
		case config.SinkKafka:
			pubs = append(pubs, issues.NewKafkaWriter(cfg.KafkaBootstrap, cfg.IssueTopic))
		case config.SinkKafkaTx:
			tw, err := issues.NewTxKafkaWriter(ctx, cfg.KafkaBootstrap, cfg.IssueTopic, cfg.TransactionalID)
			if err != nil {
				return nil, fmt.Errorf("init issue tx producer: %w", err)
			}
			pubs = append(pubs, tw)
		}
	}
	if len(pubs) == 1 {
		return pubs[0], nil
	}
	return issues.NewMultiPublisher(pubs...), nil
}

func publishIssues(ctx context.Context, cfg config.Auditor, runID string, rep audit.Report, mreg *metrics.Registry, logger *zap.Logger) (err error) {
	if len(cfg.Sinks()) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
	defer cancel()

	pub, err := newIssuePublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close issue sinks: %w", cerr))
		}
	}()

	events := issues.FromRecords(runID, rep.Records)
	if err := pub.Publish(ctx, events); err != nil {
		return fmt.Errorf("publish issues: %w", err)
	}
	mreg.IssuesPublished.Add(float64(len(events)))
	logger.Info("issue events published", zap.Int("events", len(events)), zap.Strings("sinks", cfg.Sinks()))
	return nil
}

func publishManifest(ctx context.Context, cfg config.Auditor, m manifest.RunManifest, logger *zap.Logger) error {
	if cfg.ManifestDir == "" && cfg.ManifestTopic == "" {
		return nil
	}
	sum, err := manifest.HashFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("hash input: %w", err)
	}
	m.InputSHA256 = sum

	var pubs []manifest.Publisher
	if cfg.ManifestDir != "" {
		fsm := manifest.NewFilesystemManifest(cfg.ManifestDir)
		prev, err := fsm.ReadLatest()
		switch {
		case err == nil && prev.SameInput(m):
			logger.Info("input unchanged since previous run", zap.String("previous_run_id", prev.RunID))
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			logger.Warn("previous manifest unreadable", zap.Error(err))
		}
		pubs = append(pubs, fsm)
	}
	if cfg.ManifestTopic != "" {
		km := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.ManifestTopic, manifest.DefaultKafkaKey)
		defer km.Close()
		pubs = append(pubs, km)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
	defer cancel()
	if err := manifest.MultiPublisher(pubs...).PublishLatest(ctx, m); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	logger.Info("manifest published", zap.String("dir", cfg.ManifestDir), zap.String("topic", cfg.ManifestTopic))
	return nil
}
