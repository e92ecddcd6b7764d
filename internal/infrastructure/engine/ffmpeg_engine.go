// Package engine runs transport descriptors through an ffmpeg child
// process and turns its output into transport events.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/pkg/tracing"
)

const (
	eventBuffer      = 64
	defaultWaitDelay = 5 * time.Second
)

// Synthesized lines. The protocol machine keys its transitions on these.
const (
	lineConnected = "Connection established"
	lineStreaming = "Streaming started"
)

var (
	failedMarkers = []string{"connection refused", "connection timed out", "failed to resolve", "server returned 4", "server returned 5", "input/output error"}
	lostMarkers   = []string{"broken pipe", "connection reset", "end of file"}
)

// Options configures how ffmpeg is located and invoked.
type Options struct {
	Binary   string
	Devices  Devices
	LogLevel string
	// StderrTail is how many trailing stderr lines go into a failure
	// diagnostic.
	StderrTail int
	// WaitDelay bounds how long a cancelled process may take to exit
	// after SIGINT before it is killed.
	WaitDelay time.Duration
}

// FFmpegEngine runs one ffmpeg process per invocation.
type FFmpegEngine struct {
	opts   Options
	logger *zap.SugaredLogger

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd       *exec.Cmd
	stop      context.CancelFunc
	cancelled atomic.Bool
}

// NewFFmpegEngine creates an engine. Zero-valued options take defaults.
func NewFFmpegEngine(opts Options, logger *zap.SugaredLogger) *FFmpegEngine {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.StderrTail <= 0 {
		opts.StderrTail = 20
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	if opts.Devices == (Devices{}) {
		opts.Devices = DefaultDevices()
	}
	return &FFmpegEngine{
		opts:   opts,
		logger: logger,
		procs:  make(map[string]*process),
	}
}

var _ ports.TransportEngine = (*FFmpegEngine)(nil)

// Invoke starts the process and returns immediately. The process lives
// until it exits, Cancel is called or ctx is done.
func (e *FFmpegEngine) Invoke(ctx context.Context, desc *domain.TransportDescriptor) (*ports.EngineHandle, error) {
	args, err := RenderArgs(desc, e.opts.Devices, e.opts.LogLevel)
	if err != nil {
		return nil, err
	}

	spanCtx, span := tracing.TraceEngineInvocation(ctx, string(desc.Variant), domain.HostOf(desc.DestinationURL))
	defer span.End()

	runCtx, stop := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, e.opts.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.opts.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stop()
		tracing.RecordError(spanCtx, err)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stop()
		tracing.RecordError(spanCtx, err)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stop()
		tracing.RecordError(spanCtx, err)
		return nil, fmt.Errorf("start %s: %w", e.opts.Binary, err)
	}

	id := uuid.NewString()
	tracing.AddSpanAttributes(spanCtx, tracing.EngineHandleKey.String(id))
	events := make(chan domain.TransportEvent, eventBuffer)
	proc := &process{cmd: cmd, stop: stop}

	e.mu.Lock()
	e.procs[id] = proc
	e.mu.Unlock()

	e.logger.Infow("engine process started",
		"engine_handle", id,
		"pid", cmd.Process.Pid,
		"variant", desc.Variant,
		"args", redactDestination(args))

	go e.supervise(runCtx, id, proc, stdout, stderr, events)
	return &ports.EngineHandle{ID: id, Events: events}, nil
}

// Cancel interrupts the process. Unknown or finished handles are ignored.
func (e *FFmpegEngine) Cancel(handle *ports.EngineHandle) error {
	if handle == nil {
		return nil
	}
	e.mu.Lock()
	proc, ok := e.procs[handle.ID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if proc.cancelled.CompareAndSwap(false, true) {
		e.logger.Infow("cancelling engine process", "engine_handle", handle.ID)
	}
	proc.stop()
	return nil
}

// Running reports how many processes are alive.
func (e *FFmpegEngine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.procs)
}

// CancelAll interrupts every process, used on shutdown.
func (e *FFmpegEngine) CancelAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.procs))
	for id := range e.procs {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.Cancel(&ports.EngineHandle{ID: id})
	}
}

// Version runs the binary with -version and returns the first line.
func (e *FFmpegEngine) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, e.opts.Binary, "-hide_banner", "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", e.opts.Binary, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}

// supervise waits for the process and emits exactly one terminal event.
func (e *FFmpegEngine) supervise(ctx context.Context, id string, proc *process, stdout, stderr io.Reader, events chan<- domain.TransportEvent) {
	started := time.Now()
	var (
		wg        sync.WaitGroup
		streaming atomic.Bool
		tail      = newLineTail(e.opts.StderrTail)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.readProgress(stdout, &streaming, events)
	}()
	go func() {
		defer wg.Done()
		e.readLog(stderr, tail, events)
	}()
	// pipes must be drained before Wait
	wg.Wait()
	waitErr := proc.cmd.Wait()

	var terminal domain.TransportEvent
	switch {
	case proc.cancelled.Load() || ctx.Err() != nil:
		terminal = domain.TerminalEvent(domain.OutcomeCancelled, "")
	case waitErr == nil:
		terminal = domain.TerminalEvent(domain.OutcomeSuccess, "")
	default:
		diagnostic := tail.String()
		if diagnostic == "" {
			diagnostic = waitErr.Error()
		}
		terminal = domain.TerminalEvent(domain.OutcomeFailed, diagnostic)
	}

	e.mu.Lock()
	delete(e.procs, id)
	e.mu.Unlock()
	proc.stop()

	e.logger.Infow("engine process exited",
		"engine_handle", id,
		"outcome", terminal.Outcome.String(),
		"duration", time.Since(started).String(),
		"error", waitErr)

	events <- terminal
	close(events)
}

func (e *FFmpegEngine) readProgress(r io.Reader, streaming *atomic.Bool, events chan<- domain.TransportEvent) {
	var parser progressParser
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		counters, ok := parser.Feed(scanner.Text())
		if !ok {
			continue
		}
		if counters.FramesSent > 0 && streaming.CompareAndSwap(false, true) {
			events <- domain.LogLineEvent(lineStreaming)
		}
		events <- domain.CountersEvent(counters)
	}
	if err := scanner.Err(); err != nil {
		e.logger.Debugw("progress reader stopped", "error", err)
	}
}

func (e *FFmpegEngine) readLog(r io.Reader, tail *lineTail, events chan<- domain.TransportEvent) {
	connected := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.Add(line)
		events <- domain.LogLineEvent(classifyStderr(line))
		if !connected && strings.HasPrefix(line, "Output #0") {
			connected = true
			events <- domain.LogLineEvent(lineConnected)
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Debugw("log reader stopped", "error", err)
	}
}

// classifyStderr prefixes network errors so the protocol machine
// recognises them.
func classifyStderr(line string) string {
	lower := strings.ToLower(line)
	for _, m := range failedMarkers {
		if strings.Contains(lower, m) {
			return "Connection failed: " + line
		}
	}
	for _, m := range lostMarkers {
		if strings.Contains(lower, m) {
			return "Connection lost: " + line
		}
	}
	return line
}

// lineTail keeps the last n lines.
type lineTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLineTail(n int) *lineTail {
	return &lineTail{max: n}
}

func (t *lineTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
