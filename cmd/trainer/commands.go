package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phishing-detector/internal/model"
	"phishing-detector/internal/models"
	"phishing-detector/internal/picker"
	"phishing-detector/internal/report"
	"phishing-detector/internal/repository"
	"phishing-detector/internal/service"
)

func (a *app) trainCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune the classifier on a labelled email CSV",
		Args:  cobra.NoArgs,
		Example: `  trainer train --file data/Phishing_Email.csv
  trainer --config configs/config.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.datasetPath(cmd, file)
			if err != nil {
				return err
			}

			db, runs, entries, err := a.openLedger()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			a.logger.Info("Starting training pipeline",
				zap.String("dataset", path),
				zap.String("tokenizer_mode", a.cfg.Tokenizer.Mode),
				zap.Int("epochs", a.cfg.Training.Epochs),
			)

			pipeline := service.NewPipeline(a.cfg, runs, entries, cmd.OutOrStdout(), a.logger)
			res, err := pipeline.Run(cmd.Context(), path)
			if err != nil {
				return err
			}

			a.logger.Info("Training pipeline completed",
				zap.String("run_id", res.Run.ID),
				zap.String("model_dir", a.cfg.Output.ModelDir),
				zap.String("tokenizer_dir", a.cfg.Output.TokenizerDir),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Dataset CSV (opens a file picker when empty)")
	return cmd
}

// datasetPath resolves the flag, then data.path, then the interactive picker
func (a *app) datasetPath(cmd *cobra.Command, file string) (string, error) {
	path := file
	if path == "" {
		path = a.cfg.Data.Path
	}
	if path != "" {
		return path, picker.Validate(path)
	}

	a.logger.Info("No dataset given, opening file picker", zap.String("dir", a.cfg.Data.PickerDir))
	path, err := picker.Pick(cmd.Context(), picker.Options{
		Dir:    a.cfg.Data.PickerDir,
		Input:  cmd.InOrStdin(),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// openLedger connects the run database when it is enabled
func (a *app) openLedger() (*sqlx.DB, *repository.RunRepository, *repository.DatasetRepository, error) {
	if !a.cfg.Database.Enabled {
		a.logger.Info("Run ledger disabled")
		return nil, nil, nil, nil
	}

	db, err := repository.NewDB(a.cfg.Database.Type, a.cfg.Database.Path, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repository.MigrateDB(db, a.logger); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, repository.NewRunRepository(db, a.logger), repository.NewDatasetRepository(db, a.logger), nil
}

func (a *app) predictCommand() *cobra.Command {
	var modelDir, tokenizerDir string

	cmd := &cobra.Command{
		Use:   "predict [text...]",
		Short: "Classify emails with a saved model",
		Long:  "Classify each argument as one email. With no arguments, every non-empty line of stdin is one email.",
		Example: `  trainer predict "Your account is locked, verify now"
  cat emails.txt | trainer predict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelDir == "" {
				modelDir = a.cfg.Output.ModelDir
			}
			if tokenizerDir == "" {
				tokenizerDir = a.cfg.Output.TokenizerDir
			}

			texts := args
			if len(texts) == 0 {
				var err error
				if texts, err = readLines(cmd); err != nil {
					return err
				}
			}
			if len(texts) == 0 {
				return errors.New("no email text given")
			}

			backend, err := model.NewBackend(a.cfg.Model.Backend)
			if err != nil {
				return err
			}
			defer backend.Finalize()

			predictor, err := service.LoadPredictor(backend, modelDir, tokenizerDir)
			if err != nil {
				return err
			}
			a.logger.Info("Loaded model",
				zap.String("model_dir", modelDir),
				zap.String("backend", backend.Name()),
				zap.Int("emails", len(texts)))

			preds, err := predictor.PredictBatch(cmd.Context(), texts, a.cfg.Training.Workers)
			if err != nil {
				return fmt.Errorf("failed to classify emails: %w", err)
			}
			sections := make([]string, 0, len(preds))
			for _, p := range preds {
				sections = append(sections, report.Prediction(p))
			}
			report.Print(cmd.OutOrStdout(), sections...)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "Saved model directory (default output.model_dir)")
	cmd.Flags().StringVar(&tokenizerDir, "tokenizer-dir", "", "Saved tokenizer directory (default output.tokenizer_dir)")
	return cmd
}

func readLines(cmd *cobra.Command) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return lines, nil
}

// ledgerDB opens the run database for the read-only runs commands
func (a *app) ledgerDB() (*sqlx.DB, error) {
	if !a.cfg.Database.Enabled {
		return nil, errors.New("run ledger is disabled (database.enabled: false)")
	}
	db, err := repository.NewDB(a.cfg.Database.Type, a.cfg.Database.Path, a.logger)
	if err != nil {
		return nil, err
	}
	if err := repository.MigrateDB(db, a.logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) runsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.ledgerDB()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := repository.NewRunRepository(db, a.logger).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			report.Print(cmd.OutOrStdout(), report.Runs(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.AddCommand(a.runShowCommand())
	return cmd
}

func (a *app) runShowCommand() *cobra.Command {
	var split string
	var limit int

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with the dataset rows stored for it",
		Args:  cobra.ExactArgs(1),
		Example: `  trainer runs show 3f2a9c1e-...
  trainer runs show 3f2a9c1e-... --split train --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch split {
			case models.SplitTrain, models.SplitValidation, models.SplitTest:
			default:
				return fmt.Errorf("unknown split %q", split)
			}

			db, err := a.ledgerDB()
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := repository.NewRunRepository(db, a.logger).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			datasets := repository.NewDatasetRepository(db, a.logger)
			counts, err := datasets.Stats(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			sections := []string{report.Run(run), report.StoredSplits(counts)}
			if len(counts) > 0 {
				entries, err := datasets.Entries(cmd.Context(), run.ID, split)
				if err != nil {
					return err
				}
				sections = append(sections, report.Entries(split, entries, limit))
			}
			report.Print(cmd.OutOrStdout(), sections...)
			return nil
		},
	}
	cmd.Flags().StringVar(&split, "split", models.SplitTest, "Stored split to list: train, validation or test")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of rows to list")
	return cmd
}
