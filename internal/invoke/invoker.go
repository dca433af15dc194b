// Package invoke runs external tools locally or inside docker or singularity
// containers, with soft timeouts, peak memory tracking and typed failures.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ShayCichocki/cactuscall/internal/config"
	cmdexec "github.com/ShayCichocki/cactuscall/internal/exec"
	"github.com/ShayCichocki/cactuscall/internal/logging"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

const (
	// DefaultPollInterval is how often a running command is checked.
	DefaultPollInterval = 10 * time.Second
	// DefaultTool is the image tools run in when a call names none.
	DefaultTool = "cactus"

	dockerMount      = "/data"
	singularityMount = "/mnt"
	shellEntrypoint  = "/bin/bash"

	// outputWaitDelay bounds how long output is drained after the command
	// exits while a descendant still holds its pipes.
	outputWaitDelay = 5 * time.Second
)

// SandboxProvider materializes a singularity sandbox for an image reference
// and returns its directory.
type SandboxProvider interface {
	Ensure(ctx context.Context, ref string) (string, error)
}

// Options configures an Invoker.
type Options struct {
	Backend models.Backend

	DockerOrg  string
	DockerTag  string
	Entrypoint string

	// SingularityImage, when set, is run directly instead of a cached sandbox.
	SingularityImage string
	Sandboxes        SandboxProvider

	PollInterval time.Duration
	// LogMemory wraps local commands in /usr/bin/time -v.
	LogMemory bool

	Sampler MemorySampler
	Runner  cmdexec.CommandRunner
	Logger  *logging.Logger
}

// OptionsFromConfig derives Options from the loaded configuration. The
// backend is resolved by the caller once per process.
func OptionsFromConfig(cfg *config.Config, backend models.Backend) Options {
	return Options{
		Backend:          backend,
		DockerOrg:        cfg.Docker.Org,
		DockerTag:        cfg.ImageTag(),
		Entrypoint:       cfg.Docker.Entrypoint,
		SingularityImage: cfg.Singularity.Image,
		PollInterval:     cfg.Execution.PollInterval,
		LogMemory:        cfg.Execution.LogMemory,
	}
}

// Call describes one invocation.
type Call struct {
	// Tool is the image the command runs in for container backends.
	Tool    string
	Command models.Command
	// WorkDir is inferred from the command's path arguments when empty.
	WorkDir string

	// Stdin takes precedence over InFile.
	Stdin  []byte
	InFile string

	// CaptureStdout takes precedence over OutFile.
	CaptureStdout bool
	OutFile       string
	OutAppend     bool
	CaptureStderr bool

	// SoftTimeout abandons the command once elapsed. Zero disables it.
	SoftTimeout time.Duration
	// CheckResult returns non-zero exit codes instead of failing.
	CheckResult bool
	// Shell interprets a single command's tokens through bash.
	Shell bool

	Port          int
	KeepContainer bool

	// JobName and Features label the memory datapoint of docker calls.
	JobName  string
	Features map[string]any
}

// Invoker runs calls on one execution backend.
type Invoker struct {
	opts Options
}

// New creates an Invoker, filling unset options with defaults.
func New(opts Options) *Invoker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Entrypoint == "" {
		opts.Entrypoint = "/opt/cactus/wrapper.sh"
	}
	if opts.Runner == nil {
		opts.Runner = cmdexec.NewRunner()
	}
	if opts.Sampler == nil {
		opts.Sampler = NewCgroupSampler(opts.Runner)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Backend == "" {
		opts.Backend = models.BackendLocal
	}
	return &Invoker{opts: opts}
}

// Backend returns the backend calls are run on.
func (inv *Invoker) Backend() models.Backend {
	return inv.opts.Backend
}

// invocation is a call translated into an OS-level process.
type invocation struct {
	argv   []string
	dir    string
	handle *models.ContainerHandle
	timeV  bool
}

func (p *invocation) display() string {
	return strings.Join(stripTimeV(p.argv), " ")
}

// Execute runs call to completion. A soft timeout returns (nil, nil) after
// interrupting the process; the process is reaped in the background.
func (inv *Invoker) Execute(ctx context.Context, call Call) (*models.ProcessResult, error) {
	if call.Command.IsZero() {
		return nil, errors.New("invoke: empty command")
	}

	p, err := inv.prepare(ctx, call)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	if p.dir != "" && p.dir != "." {
		cmd.Dir = p.dir
	}
	// Pipe stages and shell scripts run as grandchildren of bash; a process
	// group lets one signal reach all of them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = outputWaitDelay

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	switch {
	case call.Stdin != nil:
		cmd.Stdin = bytes.NewReader(call.Stdin)
	case call.InFile != "":
		f, err := os.Open(call.InFile)
		if err != nil {
			return nil, fmt.Errorf("opening input file: %w", err)
		}
		closers = append(closers, f)
		cmd.Stdin = f
	}

	var stdout, stderr bytes.Buffer
	switch {
	case call.CaptureStdout:
		cmd.Stdout = &stdout
	case call.OutFile != "":
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if call.OutAppend {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(call.OutFile, flags, 0644)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("opening output file: %w", err)
		}
		closers = append(closers, f)
		cmd.Stdout = f
	}

	captureStderr := call.CaptureStderr || p.timeV
	if captureStderr {
		cmd.Stderr = &stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	display := p.display()
	debug := containsToken(p.argv, "ktremotemgr")
	features := featuresJSON(call.Features)
	msg := fmt.Sprintf("Running the command: %q", display)
	if features != "" {
		msg += fmt.Sprintf(" (features=%s)", features)
	}
	inv.realtime(msg, debug)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		closeAll()
		if inv.opts.Backend.IsContainer() {
			return nil, &SetupError{Op: "starting " + p.argv[0], Err: err}
		}
		return nil, fmt.Errorf("starting %s: %w", p.argv[0], err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		closeAll()
		done <- err
	}()

	ticker := time.NewTicker(inv.opts.PollInterval)
	defer ticker.Stop()
	var timeout <-chan time.Time
	if call.SoftTimeout > 0 {
		t := time.NewTimer(call.SoftTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var tracker PeakTracker
	var waitErr error
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-ticker.C:
			if p.handle != nil {
				inv.sampleMemory(ctx, p.handle, &tracker)
			}
		case <-timeout:
			signalGroup(cmd.Process, unix.SIGINT)
			inv.opts.Logger.Realtime(fmt.Sprintf("Soft timeout of %s reached, abandoning: %q", call.SoftTimeout, display))
			return nil, nil
		case <-ctx.Done():
			signalGroup(cmd.Process, unix.SIGKILL)
			if p.handle != nil {
				inv.removeContainer(p.handle)
			}
			<-done
			return nil, ctx.Err()
		}
	}
	elapsed := time.Since(start)

	var exitErr *exec.ExitError
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		inv.opts.Logger.Log("output of %q still open %s after exit, closed", display, outputWaitDelay)
		waitErr = nil
	}
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("running %s: %w", p.argv[0], waitErr)
	}
	code, signal := exitStatus(cmd.ProcessState)

	result := &models.ProcessResult{
		ExitCode:   code,
		PeakMemory: tracker.Peak(),
		Duration:   elapsed,
	}
	if call.CaptureStdout {
		result.Stdout = stdout.Bytes()
	}
	if captureStderr {
		result.Stderr = stderr.Bytes()
	}
	if p.timeV {
		if rss, ok := parseMaxRSS(stderr.Bytes()); ok {
			result.PeakMemory = rss
		}
	}

	if p.handle != nil && call.JobName != "" && features != "" {
		inv.opts.Logger.Realtime(fmt.Sprintf("Max memory used for job %s (tool %s) on JSON features %s: %d",
			call.JobName, call.Command.Tool(), features, result.PeakMemory))
	}

	if code == 0 {
		msg := fmt.Sprintf("Successfully ran: %q", display)
		if features != "" {
			msg += fmt.Sprintf(" (features=%s)", features)
		}
		msg += fmt.Sprintf(" in %.4f seconds", elapsed.Seconds())
		if result.PeakMemory > 0 {
			msg += fmt.Sprintf(" and %s memory", humanize.IBytes(uint64(result.PeakMemory)))
		}
		inv.realtime(msg, debug)
	}

	if code != 0 && !call.CheckResult {
		execErr := &ExecutionError{
			Command: display,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
		}
		if signal != "" {
			execErr.Signal = signal
		} else {
			execErr.Code = code
		}
		return nil, execErr
	}
	return result, nil
}

// prepare translates call into the argv for the configured backend.
func (inv *Invoker) prepare(ctx context.Context, call Call) (*invocation, error) {
	switch inv.opts.Backend {
	case models.BackendLocal:
		return inv.prepareLocal(call), nil
	case models.BackendDocker:
		return inv.prepareDocker(call)
	case models.BackendSingularity:
		return inv.prepareSingularity(ctx, call)
	default:
		return nil, fmt.Errorf("unknown backend %q", inv.opts.Backend)
	}
}

func (inv *Invoker) prepareLocal(call Call) *invocation {
	argv := call.Command.Tokens()
	if script, ok := shellScript(call.Command, call.Shell); ok {
		argv = []string{"bash", "-c", script}
	}
	p := &invocation{argv: argv, dir: call.WorkDir}
	if inv.opts.LogMemory && !isServer(call.Command) {
		p.argv = wrapTimeV(argv)
		p.timeV = true
	}
	return p
}

// containerParams returns the relativized parameters, the work dir and
// whether a shell entry point is required.
func containerParams(call Call) ([]string, string, bool) {
	wd := call.WorkDir
	if wd == "" {
		wd = InferWorkDir(call.Command.Tokens())
	}
	if script, ok := shellScript(call.Command, call.Shell); ok {
		return Relativize([]string{"-c", script}, wd), wd, true
	}
	return Relativize(call.Command.Tokens(), wd), wd, false
}

func (inv *Invoker) prepareDocker(call Call) (*invocation, error) {
	params, wd, shell := containerParams(call)
	abs, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}

	entrypoint := inv.opts.Entrypoint
	if shell {
		entrypoint = shellEntrypoint
	}

	argv := []string{
		"docker", "run",
		"--interactive",
		"--net=host",
		"--log-driver=none",
		"-u", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-v", abs + ":" + dockerMount,
		"--entrypoint", entrypoint,
	}
	if call.Port > 0 {
		argv = append(argv, "-p", fmt.Sprintf("%d:%d", call.Port, call.Port))
	}
	handle := &models.ContainerHandle{Name: uuid.NewString()}
	argv = append(argv, "--name", handle.Name)
	if !call.KeepContainer {
		argv = append(argv, "--rm")
	}
	argv = append(argv, inv.imageRef(call.Tool))
	argv = append(argv, params...)

	return &invocation{argv: argv, dir: wd, handle: handle}, nil
}

func (inv *Invoker) prepareSingularity(ctx context.Context, call Call) (*invocation, error) {
	params, wd, shell := containerParams(call)
	if shell {
		params = append([]string{"bash"}, params...)
	}

	if inv.opts.SingularityImage != "" {
		argv := append([]string{"singularity", "--silent", "run", inv.opts.SingularityImage}, params...)
		return &invocation{argv: argv, dir: wd}, nil
	}

	if inv.opts.Sandboxes == nil {
		return nil, &SetupError{Op: "preparing sandbox", Err: errors.New("no sandbox cache configured")}
	}
	tool := call.Tool
	if tool == "" {
		tool = DefaultTool
	}
	sandbox, err := inv.opts.Sandboxes.Ensure(ctx, tool)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	argv := []string{
		"singularity", "-q", "exec",
		"-u",
		"-B", abs + ":" + singularityMount,
		"--pwd", singularityMount,
		sandbox,
	}
	argv = append(argv, params...)
	return &invocation{argv: argv, dir: wd}, nil
}

func (inv *Invoker) imageRef(tool string) string {
	if tool == "" {
		tool = DefaultTool
	}
	return fmt.Sprintf("%s/%s:%s", inv.opts.DockerOrg, tool, inv.opts.DockerTag)
}

// sampleMemory records the container's current peak. Sampling is best
// effort; only a decrease is fatal.
func (inv *Invoker) sampleMemory(ctx context.Context, h *models.ContainerHandle, t *PeakTracker) {
	v, err := inv.opts.Sampler.Sample(ctx, h)
	if err != nil {
		if !errors.Is(err, ErrNoSample) {
			inv.opts.Logger.Log("memory sample for %s: %v", h.Name, err)
		}
		return
	}
	t.Observe(v)
}

// signalGroup delivers sig to the process group led by p, falling back to p
// alone when the group is already gone.
func signalGroup(p *os.Process, sig syscall.Signal) {
	if err := unix.Kill(-p.Pid, sig); err != nil {
		_ = p.Signal(sig)
	}
}

func (inv *Invoker) removeContainer(h *models.ContainerHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if out, err := inv.opts.Runner.Run(ctx, "", "docker", "rm", "-f", h.Name); err != nil {
		inv.opts.Logger.Log("removing container %s: %v: %s", h.Name, err, out)
	}
}

func (inv *Invoker) realtime(msg string, debug bool) {
	if debug {
		inv.opts.Logger.RealtimeDebug(msg)
		return
	}
	inv.opts.Logger.Realtime(msg)
}

// exitStatus returns the exit code and, for signaled processes, the signal
// name. Signaled processes get the negated signal number as their code.
func exitStatus(ps *os.ProcessState) (int, string) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal()), unix.SignalName(ws.Signal())
	}
	return ps.ExitCode(), ""
}

func isServer(cmd models.Command) bool {
	for _, tool := range serverTools {
		if cmd.Contains(tool) {
			return true
		}
	}
	return false
}

func containsToken(argv []string, name string) bool {
	for _, tok := range argv {
		if tok == name {
			return true
		}
	}
	return false
}

func featuresJSON(features map[string]any) string {
	if len(features) == 0 {
		return ""
	}
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Sprint(features)
	}
	return string(data)
}
