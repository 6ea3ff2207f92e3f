package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/database"
	"github.com/synaptica-ai/decompensation/pkg/common/kafka"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/middleware"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/pipeline"
	"github.com/synaptica-ai/decompensation/pkg/storage"
	"github.com/synaptica-ai/decompensation/pkg/training"
)

func main() {
	logger.Init()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "decompensation",
		Short:        "Build and serve the ICU decompensation benchmark",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(extractCmd(cfg))
	rootCmd.AddCommand(validateCmd(cfg))
	rootCmd.AddCommand(splitCmd(cfg))
	rootCmd.AddCommand(serveCmd(cfg))
	rootCmd.AddCommand(migrateCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func ledger(cfg *config.Config) *pipeline.Ledger {
	if !cfg.PostgresEnabled() {
		return nil
	}
	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Run ledger disabled")
		return nil
	}
	return pipeline.NewLedger(pipeline.NewRepository(db))
}

func publisher(cfg *config.Config, source string) (pipeline.Publisher, func()) {
	if !cfg.KafkaEnabled() {
		return pipeline.NopPublisher(), func() {}
	}
	producer := kafka.NewProducer(cfg, source)
	return producer, func() { producer.Close() }
}

// checkpoints returns the store for subjects under root. Without a reachable
// Redis every run validates from scratch.
func checkpoints(cfg *config.Config, root string) storage.CheckpointStore {
	if !cfg.RedisEnabled() {
		return storage.NewMemoryCheckpoints()
	}
	client, err := database.GetRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Checkpoints disabled, falling back to memory")
		return storage.NewMemoryCheckpoints()
	}
	return storage.NewRedisCheckpoints(client, storage.ScopedKey(cfg.CheckpointKey, root), cfg.CheckpointTTL)
}

func extractCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Build the cohort and partition the source tables per subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			pub, closePub := publisher(cfg, pipeline.StageExtract)
			defer closePub()
			defer database.ClosePostgres()
			defer database.CloseRedis()

			deps := pipeline.Deps{Publisher: pub, Ledger: ledger(cfg), Checkpoints: checkpoints(cfg, cfg.OutputPath)}
			summary, err := pipeline.Extract(ctx, cfg, deps)
			if err != nil {
				logger.Log.WithError(err).Error("Extraction failed")
				return err
			}
			logger.Log.WithField("run_id", summary.RunID).WithFields(summary.Map()).Info("Extraction complete")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.MIMIC3Path, "mimic3-path", cfg.MIMIC3Path, "directory containing the source CSV tables")
	flags.StringVar(&cfg.OutputPath, "output-path", cfg.OutputPath, "directory for cohort files and subject directories")
	flags.StringSliceVar(&cfg.EventTables, "event-tables", cfg.EventTables, "event tables to partition")
	flags.StringVar(&cfg.ItemIDsFile, "itemids-file", cfg.ItemIDsFile, "CSV with an ITEMID column restricting events")
	flags.StringVar(&cfg.PhenotypeDefinitions, "phenotype-definitions", cfg.PhenotypeDefinitions, "YAML phenotype definitions")
	flags.IntVar(&cfg.TestModeSubjects, "test-subjects", cfg.TestModeSubjects, "partition only a random sample of this many subjects")
	flags.Int64Var(&cfg.TestModeSeed, "test-seed", cfg.TestModeSeed, "seed for test mode sampling")
	return cmd
}

func validateCmd(cfg *config.Config) *cobra.Command {
	var (
		follow bool
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "validate [subjects-root]",
		Short: "Resolve each subject's events against its stays",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cfg.OutputPath
			if len(args) == 1 {
				root = args[0]
			}
			ctx, cancel := signalContext()
			defer cancel()
			defer database.CloseRedis()
			defer database.ClosePostgres()

			pub, closePub := publisher(cfg, pipeline.StageValidate)
			defer closePub()

			store := checkpoints(cfg, root)
			if reset {
				if err := store.Reset(ctx); err != nil {
					return err
				}
			}

			runs := ledger(cfg)
			runID, err := runs.Start(ctx, pipeline.StageValidate, root)
			if err != nil {
				logger.Log.WithError(err).Warn("Failed to record run start")
			}

			v := pipeline.NewValidator(root, cfg.ValidateWorkers, store)
			v.Publisher = pub
			v.RunID = runID

			if follow {
				return followPartitions(ctx, cfg, v)
			}

			report, err := v.Run(ctx)
			if ferr := runs.Finish(context.Background(), runID, report.Summary(), err); ferr != nil {
				logger.Log.WithError(ferr).Warn("Failed to record run result")
			}
			if err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d subjects failed validation", len(report.Failed))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.ValidateWorkers, "workers", cfg.ValidateWorkers, "subjects validated in parallel")
	cmd.Flags().BoolVar(&follow, "follow", false, "validate subjects as extraction announces them")
	cmd.Flags().BoolVar(&reset, "reset", false, "forget checkpoints before validating")
	return cmd
}

// followPartitions validates subjects announced by a running extraction until
// the context is cancelled.
func followPartitions(ctx context.Context, cfg *config.Config, v *pipeline.Validator) error {
	if !cfg.KafkaEnabled() {
		return errors.New("--follow requires KAFKA_BROKERS")
	}
	consumer := kafka.NewConsumer(cfg, "")
	defer consumer.Close()

	logger.Log.WithField("topic", cfg.KafkaStageTopic).Info("Following partitioned subjects")
	err := consumer.Consume(ctx, func(ctx context.Context, event models.StageEvent) error {
		if event.Type != pipeline.EventSubjectPartitioned {
			return nil
		}
		subject, ok := event.Data["subject_id"].(string)
		if !ok || subject == "" {
			logger.Log.WithField("event_id", event.ID).Warn("Partition event without subject")
			return nil
		}
		report, err := v.RunSubjects(ctx, []string{subject})
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("subject %s failed validation", subject)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitCmd(cfg *config.Config) *cobra.Command {
	var testSetPath string
	cmd := &cobra.Command{
		Use:   "split [subjects-root]",
		Short: "Move subject directories into train and test partitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cfg.OutputPath
			if len(args) == 1 {
				root = args[0]
			}
			if testSetPath == "" {
				return errors.New("--test-set is required")
			}
			testSet, err := training.LoadTestSet(testSetPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			runs := ledger(cfg)
			defer database.ClosePostgres()
			runID, lerr := runs.Start(ctx, pipeline.StageSplit, root)
			if lerr != nil {
				logger.Log.WithError(lerr).Warn("Failed to record run start")
			}

			result, err := training.SplitTrainTest(root, testSet)
			summary := map[string]interface{}{"train": result.Train, "test": result.Test, "missing": len(result.Missing)}
			if ferr := runs.Finish(ctx, runID, summary, err); ferr != nil {
				logger.Log.WithError(ferr).Warn("Failed to record run result")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&testSetPath, "test-set", "", "headless subject,label CSV; label 1 marks test subjects")
	return cmd
}

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve decompensation examples over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := training.NewReader(cfg.DatasetDir, cfg.Listfile)
			if err != nil {
				return fmt.Errorf("loading examples from %s: %w", filepath.Join(cfg.DatasetDir, training.ListfileName), err)
			}

			router := mux.NewRouter()
			router.Use(middleware.Recovery, middleware.Logging)
			training.NewHTTPHandler(reader).Register(router)

			server := &http.Server{
				Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
				Handler:      router,
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
			}

			go func() {
				logger.Log.WithFields(map[string]interface{}{
					"host":     cfg.ServerHost,
					"port":     cfg.ServerPort,
					"examples": reader.Count(),
				}).Info("Example reader started")

				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Log.WithError(err).Fatal("Failed to start server")
				}
			}()

			ctx, stop := signalContext()
			defer stop()
			<-ctx.Done()

			logger.Log.Info("Shutting down example reader...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Log.WithError(err).Error("Server forced to shutdown")
			}
			logger.Log.Info("Example reader stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.DatasetDir, "dataset-dir", cfg.DatasetDir, "directory holding episode time series")
	cmd.Flags().StringVar(&cfg.Listfile, "listfile", cfg.Listfile, "listfile path, defaults to <dataset-dir>/listfile.csv")
	cmd.Flags().StringVar(&cfg.ServerPort, "port", cfg.ServerPort, "listen port")
	return cmd
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the pipeline run ledger table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.PostgresEnabled() {
				return errors.New("POSTGRES_HOST is not set")
			}
			db, err := database.GetPostgres(cfg)
			if err != nil {
				return err
			}
			defer database.ClosePostgres()
			if err := pipeline.NewRepository(db).AutoMigrate(); err != nil {
				return err
			}
			logger.Log.Info("Run ledger migrated")
			return nil
		},
	}
}
