package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/jobtree"
	"github.com/ShayCichocki/cactuscall/internal/state"
)

var (
	statusLimit int
	statusJobs  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recorded fanout runs",
	Long: `Display the fanout runs recorded in the state directory.

With a run ID, shows every job of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().BoolVar(&statusJobs, "jobs", false, "List every job of the shown run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := state.DBPath(cfg.Execution.StateDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs recorded. Run 'cactuscall fanout <manifest>' to start one.")
		return nil
	}

	db, err := state.OpenStateDir(cfg.Execution.StateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if _, err := db.MarkInterrupted(); err != nil {
		return err
	}

	if len(args) == 1 {
		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		if err := displayRun(db, run); err != nil {
			return err
		}
		return displayJobs(db, run.ID)
	}

	runs, err := db.ListRuns(nil)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	if statusLimit > 0 && len(runs) > statusLimit {
		runs = runs[:statusLimit]
	}
	for i := range runs {
		if err := displayRun(db, &runs[i]); err != nil {
			return err
		}
	}
	if statusJobs {
		return displayJobs(db, runs[0].ID)
	}
	return nil
}

func statusSymbol(s state.RunStatus) string {
	switch s {
	case state.RunActive:
		return color.CyanString("●")
	case state.RunCompleted:
		return color.GreenString("✓")
	case state.RunCanceled, state.RunInterrupted:
		return color.YellowString("○")
	default:
		return color.RedString("✗")
	}
}

func displayRun(db *state.DB, r *state.Run) error {
	counts, err := db.JobCounts(r.ID)
	if err != nil {
		return err
	}
	elapsed := time.Since(r.StartedAt)
	if r.FinishedAt != nil {
		elapsed = r.FinishedAt.Sub(r.StartedAt)
	}

	fmt.Printf("%s %s  %s\n", statusSymbol(r.Status), r.ID, r.Status)
	fmt.Printf("    Manifest: %s\n", r.Manifest)
	fmt.Printf("    Backend:  %s\n", r.Backend)
	fmt.Printf("    Started:  %s (%s)\n", humanize.Time(r.StartedAt), elapsed.Round(time.Second))
	fmt.Printf("    Jobs:     %d running, %d done, %d failed of %d\n",
		counts[jobtree.StatusRunning], counts[jobtree.StatusDone], counts[jobtree.StatusFailed], r.Units)
	return nil
}

func displayJobs(db *state.DB, runID string) error {
	jobs, err := db.ListJobs(runID)
	if err != nil {
		return err
	}
	fmt.Println()
	for _, j := range jobs {
		var sym string
		switch j.Status {
		case jobtree.StatusDone:
			sym = color.GreenString("✓")
		case jobtree.StatusFailed:
			sym = color.RedString("✗")
		default:
			sym = color.CyanString("●")
		}
		line := fmt.Sprintf("  %s %-6s %s", sym, j.Kind, j.Name)
		if j.Error != "" {
			line += ": " + j.Error
		}
		fmt.Println(line)
	}
	return nil
}
