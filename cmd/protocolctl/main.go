package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
	"github.com/joseph-ayodele/protocol-pilot/internal/document"
	"github.com/joseph-ayodele/protocol-pilot/internal/export"
	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/pipeline"
	"github.com/joseph-ayodele/protocol-pilot/internal/repository"
)

func main() {
	root := &cobra.Command{
		Use:           "protocolctl",
		Short:         "Run and inspect protocol extraction jobs without the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), statusCmd(), exportCmd(), jobsCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <pages.json>",
		Short: "Create a job from a pages document and run the extraction loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			cfg := common.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := document.Parse(raw)
			if err != nil {
				return err
			}

			store, err := artifacts.NewStore(cfg.Artifacts.DataRoot, logger)
			if err != nil {
				return err
			}
			jobID := artifacts.NewJobID()
			if err := store.WriteJSON(jobID, constants.PagesArtifact, doc); err != nil {
				return err
			}

			proposer := llm.NewClient(llm.Config{
				BaseURL:      cfg.LLM.BaseURL,
				APIKey:       cfg.LLM.APIKey,
				Model:        cfg.LLM.Model,
				Temperature:  cfg.LLM.Temperature,
				Timeout:      cfg.LLM.Timeout,
				MaxRetries:   cfg.LLM.MaxRetries,
				RetryBackoff: cfg.LLM.RetryBackoff,
			}, logger)
			loop := pipeline.NewLoop(
				cfg.Loop,
				store,
				pipeline.NewTriageStage(proposer, logger),
				pipeline.NewExtractStage(proposer, logger),
				pipeline.NewAdjudicateStage(proposer, logger),
				nil,
				logger,
			)

			fmt.Println("job:", jobID)
			res, err := loop.Run(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			fmt.Printf("stop_reason: %s (passes=%d, span=%d, modality=%s)\n",
				res.StopReason, res.Passes, res.FinalSpan, res.Modality)
			fmt.Printf("gaps: missing=%d ambiguous=%d conflicts=%d questions=%d\n",
				res.Gaps.Missing, res.Gaps.Ambiguous, res.Gaps.Conflicts, res.Gaps.Questions)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log loop progress")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Print a job's status record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := common.LoadConfig()
			store, err := artifacts.NewStore(cfg.Artifacts.DataRoot, newLogger(false))
			if err != nil {
				return err
			}
			status, err := store.ReadStatus(args[0])
			if err != nil {
				return err
			}
			if len(status) == 0 {
				return fmt.Errorf("no status for job %s", args[0])
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <job_id>",
		Short: "Write a job's results workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			cfg := common.LoadConfig()
			store, err := artifacts.NewStore(cfg.Artifacts.DataRoot, logger)
			if err != nil {
				return err
			}
			wb, err := export.NewService(store, logger).Workbook(args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = args[0] + ".xlsx"
			}
			if err := os.WriteFile(outPath, wb, 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default <job_id>.xlsx)")
	return cmd
}

func jobsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List registered jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			cfg := common.LoadConfig()
			db, err := repository.Open(cmd.Context(), cfg.Database, cfg.Artifacts.DataRoot, logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			jobs, err := repository.NewJobRepository(db, logger).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					j.DisplayID, j.State, j.StopReason, j.Modality, j.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum jobs to list")
	return cmd
}
