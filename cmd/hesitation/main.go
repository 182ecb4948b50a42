package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-hesitation/internal/config"
	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/experiment"
	"github.com/23skdu/longbow-hesitation/internal/flight"
	"github.com/23skdu/longbow-hesitation/internal/logger"
	"github.com/23skdu/longbow-hesitation/internal/model"
	"github.com/23skdu/longbow-hesitation/internal/monitoring"
	"github.com/23skdu/longbow-hesitation/internal/vocab"
)

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hesitation <corpus>",
		Short: "Record per-step decoding statistics of a translation model over a corpus",
		Long: `hesitation decodes every sentence of <corpus> with the configured model and
strategy, recording the entropy, predicted and gold tokens and log-probabilities
of each step, and writes one result table for the corpus.

Configuration is read from hesitation.yaml in the working directory, or the
file named by $HESITATION_CONFIG, and HESITATION_* environment variables.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger.Setup(cfg.Log.Level, cfg.Log.Format)
			return run(cmd.Context(), cfg, args[0])
		},
	}
}

func run(ctx context.Context, cfg *config.Config, corpusName string) error {
	start := time.Now()
	logger.Log.Info("Start", "corpus", corpusName, "mode", cfg.Decoding.Mode, "time", start.Format(time.DateTime))

	settings, err := cfg.Resolve()
	if err != nil {
		return err
	}
	srcVocab, err := vocab.Load(settings.SrcVocab)
	if err != nil {
		return fmt.Errorf("load source vocabulary: %w", err)
	}
	trgVocab, err := vocab.Load(settings.TrgVocab)
	if err != nil {
		return fmt.Errorf("load target vocabulary: %w", err)
	}
	logger.Log.Debug("Loaded vocabularies", "source", srcVocab.Size(), "target", trgVocab.Size())

	client := flight.NewClient(cfg.Model.Addr)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	runner, err := experiment.NewRunner(model.NewRemote(client), srcVocab, trgVocab, experiment.Options{
		CorpusDir:    cfg.Corpus.Dir,
		SourceSuffix: cfg.Corpus.SourceSuffix,
		TargetSuffix: cfg.Corpus.TargetSuffix,
		ResultsDir:   cfg.Results.Dir,
		Format:       cfg.Format(),
		Strategy: decoding.StrategyConfig{
			Mode: cfg.Mode(),
			TopK: cfg.Decoding.TopK,
			Seed: cfg.Decoding.Seed,
		},
		MaxSteps:          settings.MaxOutputLength,
		KeepDistributions: cfg.Decoding.KeepDistributions,
	})
	if err != nil {
		return err
	}

	if cfg.Results.UploadAddr != "" {
		sink := client
		if cfg.Results.UploadAddr != cfg.Model.Addr {
			sink = flight.NewClient(cfg.Results.UploadAddr)
			if err := sink.Connect(); err != nil {
				return err
			}
			defer sink.Close()
		}
		runner.WithUploader(sink)
	}

	if cfg.Monitor.Addr != "" {
		hm := monitoring.NewHealthMonitor()
		if err := hm.Start(cfg.Monitor.Addr); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hm.Stop(ctx)
		}()
		runner.WithMonitor(hm)
	}

	rep, err := runner.Run(ctx, corpusName)
	end := time.Now()
	if err != nil {
		logger.Log.Error("Run failed", "error", err, "time", end.Format(time.DateTime), "elapsed", end.Sub(start))
		return err
	}
	logger.Log.Info("End", "results", rep.Path, "time", end.Format(time.DateTime), "elapsed", end.Sub(start))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Log.Error("hesitation failed", "error", err)
		os.Exit(1)
	}
}
