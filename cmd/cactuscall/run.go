package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

var (
	runTool        string
	runWorkDir     string
	runSoftTimeout time.Duration
	runCapture     bool
	runCheckResult bool
	runStdinFile   string
	runOut         string
	runAppend      bool
	runShell       bool
	runPort        int
	runKeep        bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...] [| <command> [args...]]...",
	Short: "Run one command through the configured backend",
	Long: `Run a single command locally or in a container.

A standalone "|" argument splits the command into pipe stages, which run
through bash with pipefail so that any failing stage fails the whole chain:

  cactuscall run -- cat in.fa '|' gzip`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTool, "tool", "", "Image the command runs in (default: cactus)")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Work directory (default: inferred from path arguments)")
	runCmd.Flags().DurationVar(&runSoftTimeout, "soft-timeout", 0, "Abandon the command after this long")
	runCmd.Flags().BoolVar(&runCapture, "capture", false, "Capture stdout and print it after the command finishes")
	runCmd.Flags().BoolVar(&runCheckResult, "check-result", false, "Print the exit code instead of failing")
	runCmd.Flags().StringVar(&runStdinFile, "stdin-file", "", "Feed this file to the command's stdin")
	runCmd.Flags().StringVar(&runOut, "out", "", "Redirect stdout to this file")
	runCmd.Flags().BoolVar(&runAppend, "append", false, "Append to --out instead of truncating it")
	runCmd.Flags().BoolVar(&runShell, "shell", false, "Interpret the command through bash")
	runCmd.Flags().IntVar(&runPort, "port", 0, "Publish this port from the container")
	runCmd.Flags().BoolVar(&runKeep, "keep-container", false, "Do not remove the container after it exits")
}

// parseCommand splits args into pipe stages on standalone "|" arguments.
func parseCommand(args []string) (models.Command, error) {
	var stages [][]string
	var cur []string
	for _, a := range args {
		if a == "|" {
			if len(cur) == 0 {
				return models.Command{}, errors.New("empty pipe stage")
			}
			stages = append(stages, cur)
			cur = nil
			continue
		}
		cur = append(cur, a)
	}
	if len(cur) == 0 {
		return models.Command{}, errors.New("empty pipe stage")
	}
	if len(stages) == 0 {
		return models.Single(cur...), nil
	}
	return models.Piped(append(stages, cur)...), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	command, err := parseCommand(args)
	if err != nil {
		return err
	}

	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	softTimeout := runSoftTimeout
	if softTimeout == 0 {
		softTimeout = env.cfg.Execution.SoftTimeout
	}

	res, err := env.invoker().Execute(cmd.Context(), invoke.Call{
		Tool:          runTool,
		Command:       command,
		WorkDir:       runWorkDir,
		InFile:        runStdinFile,
		CaptureStdout: runCapture,
		OutFile:       runOut,
		OutAppend:     runAppend,
		SoftTimeout:   softTimeout,
		CheckResult:   runCheckResult,
		Shell:         runShell,
		Port:          runPort,
		KeepContainer: runKeep,
	})
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintf(os.Stderr, "%s soft timeout of %s reached, command abandoned\n", color.YellowString("⚠"), softTimeout)
		return nil
	}

	if runCapture {
		os.Stdout.Write(res.Stdout)
	}
	if runCheckResult {
		fmt.Println(res.ExitCode)
	}
	if res.PeakMemory > 0 {
		fmt.Fprintf(os.Stderr, "%s peak memory %s in %s\n", color.GreenString("✓"),
			humanize.IBytes(uint64(res.PeakMemory)), res.Duration.Round(time.Millisecond))
	}
	return nil
}
