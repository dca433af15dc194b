package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/fanout"
	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/internal/jobtree"
	"github.com/ShayCichocki/cactuscall/internal/signals"
	"github.com/ShayCichocki/cactuscall/internal/state"
	"github.com/ShayCichocki/cactuscall/internal/workflow"
)

var (
	fanoutDryRun      bool
	fanoutMaxChildren int
	fanoutParallelism int
)

var fanoutCmd = &cobra.Command{
	Use:   "fanout <manifest.yaml>",
	Short: "Run the units of a manifest as a bounded-fanout job tree",
	Long: `Attach every unit of the manifest under one root job, inserting grouping
jobs so that no job has more than max_children_per_job children, then run
the tree.

Progress is recorded in the state directory. Create <state-dir>/signals/kill
(or run "cactuscall stop") to stop a running fanout.`,
	Args: cobra.ExactArgs(1),
	RunE: runFanout,
}

func init() {
	fanoutCmd.Flags().BoolVar(&fanoutDryRun, "dry-run", false, "Print the tree shape without running anything")
	fanoutCmd.Flags().IntVar(&fanoutMaxChildren, "max-children", 0, "Override the fanout bound")
	fanoutCmd.Flags().IntVar(&fanoutParallelism, "parallelism", 0, "Override how many units run at once")
}

// unitOutcome is the result value of a unit job.
type unitOutcome struct {
	ExitCode   int
	PeakMemory int64
	Duration   time.Duration
	Stdout     workflow.FileID
	Abandoned  bool
}

func maxChildren(m *Manifest, configured int) int {
	switch {
	case fanoutMaxChildren > 0:
		return fanoutMaxChildren
	case m.MaxChildrenPerJob > 0:
		return m.MaxChildrenPerJob
	default:
		return configured
	}
}

func runFanout(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	if fanoutDryRun {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printPlan(len(m.Units), maxChildren(m, cfg.Scheduling.MaxChildrenPerJob))
	}

	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg
	bound := maxChildren(m, cfg.Scheduling.MaxChildrenPerJob)

	if err := invoke.PullImage(cmd.Context(), env.runner, env.backend, cfg.ImageRef(m.Tool), cfg.Binaries.UseLocalImage); err != nil {
		return err
	}

	db, err := state.OpenStateDir(cfg.Execution.StateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	interrupted, err := db.MarkInterrupted()
	if err != nil {
		return err
	}
	for _, r := range interrupted {
		fmt.Printf("%s run %s (%s) was interrupted\n", color.YellowString("⚠"), r.ID, r.Manifest)
	}

	watcher, err := signals.NewWatcher(cfg.Execution.StateDir)
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	defer watcher.Close()
	watcher.Clear()
	ctx, cancel := watcher.WithCancel(cmd.Context(), time.Second)
	defer cancel()

	inv := env.invoker()
	blobs := db.Blobs()
	policy := cfg.RoundingPolicy()

	root := jobtree.NewGroup()
	work := make([]workflow.Job, len(m.Units))
	jobs := make([]*jobtree.Job, len(m.Units))
	for i := range m.Units {
		u := &m.Units[i]
		req, _ := u.requirements()
		call := u.call(m.Tool, cfg.Execution.SoftTimeout)
		jobs[i] = jobtree.NewJobWithPolicy(policy, u.Name, req, unitPayload(inv, blobs, call))
		work[i] = jobs[i]
	}
	if err := fanout.AttachChildren(root, work, bound, jobtree.GroupFactory); err != nil {
		return err
	}
	stats := jobtree.Collect(root)

	absManifest, _ := filepath.Abs(manifestPath)
	run := &state.Run{
		ID:        uuid.NewString(),
		Manifest:  absManifest,
		Backend:   string(env.backend),
		Units:     stats.Units + 1,
		StartedAt: time.Now(),
	}
	if err := db.CreateRun(run); err != nil {
		return err
	}

	parallelism := cfg.Scheduling.Parallelism
	if fanoutParallelism > 0 {
		parallelism = fanoutParallelism
	}
	runner := jobtree.NewRunner(parallelism)
	runner.Recorder = db.Recorder(run.ID)
	runner.SetDebugLog(env.log.Log)

	fmt.Printf("Run %s: %d units under %d grouping jobs (depth %d, max fanout %d) on %s\n",
		run.ID, len(m.Units), stats.Groups, stats.Depth, stats.MaxFanout, env.backend)

	runErr := runner.Run(ctx, root)

	status := state.RunCompleted
	switch {
	case errors.Is(context.Cause(ctx), signals.ErrKilled):
		status = state.RunCanceled
	case runErr != nil:
		status = state.RunFailed
	}
	if err := db.FinishRun(run.ID, status); err != nil {
		return err
	}

	printSummary(run.ID, status, m, jobs)
	if status == state.RunCanceled {
		return signals.ErrKilled
	}
	return runErr
}

// unitPayload runs one unit through the invoker.
func unitPayload(inv *invoke.Invoker, blobs *state.BlobStore, call invoke.Call) jobtree.RunFunc {
	return func(ctx context.Context, j *jobtree.Job) (any, error) {
		res, err := inv.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return unitOutcome{Abandoned: true}, nil
		}
		out := unitOutcome{
			ExitCode:   res.ExitCode,
			PeakMemory: res.PeakMemory,
			Duration:   res.Duration,
		}
		if call.CaptureStdout {
			id, err := blobs.Put(ctx, res.Stdout)
			if err != nil {
				return nil, err
			}
			out.Stdout = id
		}
		return out, nil
	}
}

func printPlan(n, bound int) error {
	shape, err := fanout.Plan(n, bound)
	if err != nil {
		return err
	}
	fmt.Printf("%d units, max %d children per job\n", shape.Items, bound)
	fmt.Printf("  grouping jobs: %d\n", shape.Groups)
	fmt.Printf("  depth:         %d\n", shape.Depth)
	fmt.Printf("  max fanout:    %d\n", shape.MaxFanout)
	for i, w := range shape.Widths {
		fmt.Printf("  level %d:       %d grouping jobs\n", i+1, w)
	}
	return nil
}

func printSummary(runID string, status state.RunStatus, m *Manifest, jobs []*jobtree.Job) {
	var done, failed, abandoned, skipped int
	var peak int64
	var failures []string
	for i, j := range jobs {
		v, err := j.Result()
		switch {
		case errors.Is(err, jobtree.ErrNotRun):
			skipped++
		case err != nil:
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", m.Units[i].Name, err))
		default:
			o := v.(unitOutcome)
			if o.Abandoned {
				abandoned++
				continue
			}
			done++
			if o.PeakMemory > peak {
				peak = o.PeakMemory
			}
			if o.Stdout != "" {
				fmt.Printf("  %s stdout: %s\n", m.Units[i].Name, o.Stdout)
			}
		}
	}

	header := color.GreenString("✓")
	if status != state.RunCompleted {
		header = color.RedString("✗")
	}
	fmt.Printf("\n%s Run %s %s\n", header, runID, status)
	fmt.Printf("  done: %d  failed: %d  abandoned: %d  not run: %d\n", done, failed, abandoned, skipped)
	if peak > 0 {
		fmt.Printf("  largest peak memory: %s\n", humanize.IBytes(uint64(peak)))
	}
	for _, f := range failures {
		fmt.Printf("  %s %s\n", color.RedString("✗"), f)
	}
}
