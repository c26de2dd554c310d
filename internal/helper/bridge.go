package helper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned by calls while no helper process is running.
// Calls fail fast instead of queuing until a restart.
var ErrUnavailable = errors.New("helper process not available")

// ErrTimeout is returned when the helper does not answer a call within the
// configured deadline.
var ErrTimeout = errors.New("rpc timed out")

const (
	defaultCallTimeout     = 5 * time.Second
	defaultMaxRestarts     = 3
	defaultRestartDelay    = time.Second
	defaultStabilityWindow = 30 * time.Second
	defaultEventBuffer     = 16

	// maxLineSize bounds a single inbound line. Accessibility snapshots of
	// large documents can get big, so this is generous.
	maxLineSize = 4 << 20
)

// Bridge supervises the native helper subprocess and multiplexes JSON-RPC
// calls over its stdio. It is safe for concurrent use.
type Bridge struct {
	factory         TransportFactory
	callTimeout     time.Duration
	maxRestarts     int
	restartDelay    time.Duration
	stabilityWindow time.Duration
	log             *slog.Logger
	onTimeout       func()

	events chan Event

	writeMu sync.Mutex // serializes stdin writes

	mu        sync.Mutex
	transport Transport
	stdin     io.WriteCloser
	gen       int // incarnation counter, guards stale read/wait loops
	pending   map[string]chan callResult
	restarts  int
	startedAt time.Time
	lastExit  ExitStatus
	timeouts  uint64
	failed    bool
	stopping  bool
}

type callResult struct {
	resp response
	err  error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithCallTimeout overrides the per-call response deadline.
func WithCallTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.callTimeout = d
	}
}

// WithLogger sets the logger used for lifecycle and protocol messages.
func WithLogger(log *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.log = log
	}
}

// WithTimeoutHook registers a callback invoked once per timed-out call,
// e.g. to feed a metrics counter. The hook runs on the caller's goroutine
// and must not block.
func WithTimeoutHook(fn func()) BridgeOption {
	return func(b *Bridge) {
		b.onTimeout = fn
	}
}

// WithRestartPolicy overrides the crash-restart policy: at most maxRestarts
// consecutive restarts, delay between a crash and the respawn, and the uptime
// after which the consecutive-restart counter resets.
func WithRestartPolicy(maxRestarts int, delay, stabilityWindow time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.maxRestarts = maxRestarts
		b.restartDelay = delay
		b.stabilityWindow = stabilityWindow
	}
}

// NewBridge creates a Bridge that spawns helper processes from factory.
// Call [Bridge.Start] to launch the first incarnation.
func NewBridge(factory TransportFactory, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		factory:         factory,
		callTimeout:     defaultCallTimeout,
		maxRestarts:     defaultMaxRestarts,
		restartDelay:    defaultRestartDelay,
		stabilityWindow: defaultStabilityWindow,
		log:             slog.Default(),
		events:          make(chan Event, defaultEventBuffer),
		pending:         make(map[string]chan callResult),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the helper process. The ctx covers the launch only, not the
// process lifetime; use [Bridge.Stop] to shut down.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport != nil {
		return errors.New("helper: already started")
	}
	b.stopping = false
	b.failed = false
	b.restarts = 0
	return b.spawnLocked(ctx)
}

// spawnLocked launches one process incarnation. Caller holds b.mu.
func (b *Bridge) spawnLocked(ctx context.Context) error {
	t := b.factory()
	stdin, stdout, err := t.Start(ctx)
	if err != nil {
		return err
	}
	b.gen++
	b.transport = t
	b.stdin = stdin
	b.startedAt = time.Now()
	go b.readLoop(b.gen, stdout)
	go b.waitLoop(b.gen, t)
	b.log.Info("helper process started", "generation", b.gen)
	return nil
}

// Stop terminates the helper process and disables restarts. It is safe to
// call multiple times.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.stopping = true
	t := b.transport
	stdin := b.stdin
	b.mu.Unlock()
	if t == nil {
		return nil
	}
	if stdin != nil {
		stdin.Close()
	}
	return t.Terminate()
}

// Events returns the stream of helper push events, crash notifications and
// restart-budget exhaustion. Events are dropped when the channel is not
// drained.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// State is a point-in-time snapshot of the supervised process.
type State struct {
	Running  bool
	Failed   bool
	Restarts int
	LastExit ExitStatus
	Timeouts uint64
	Pending  int
}

// State reports the current process state for health and diagnostics.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Running:  b.transport != nil,
		Failed:   b.failed,
		Restarts: b.restarts,
		LastExit: b.lastExit,
		Timeouts: b.timeouts,
		Pending:  len(b.pending),
	}
}

// Snapshot fetches the accessibility context around the text cursor.
func (b *Bridge) Snapshot(ctx context.Context) (*AccessibilitySnapshot, error) {
	var snap AccessibilitySnapshot
	if err := b.call(ctx, snapshotCall{}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CheckPermission queries the grant state of one OS permission.
func (b *Bridge) CheckPermission(ctx context.Context, p Permission) (bool, error) {
	var res struct {
		Granted bool `json:"granted"`
	}
	if err := b.call(ctx, permissionCall{Permission: p}, &res); err != nil {
		return false, err
	}
	return res.Granted, nil
}

// InsertText asks the helper to type text at the current cursor position.
func (b *Bridge) InsertText(ctx context.Context, text string) error {
	return b.call(ctx, insertTextCall{Text: text}, nil)
}

// call performs one request/response round trip. The request is registered in
// the pending table before the write so a fast response cannot be lost; on
// timeout or cancellation the entry is removed and any response arriving later
// for that id is dropped by the read loop.
func (b *Bridge) call(ctx context.Context, c call, out any) error {
	method := methodName(c)

	b.mu.Lock()
	if b.stdin == nil || b.failed {
		b.mu.Unlock()
		return fmt.Errorf("helper: %s: %w", method, ErrUnavailable)
	}
	id := uuid.NewString()
	ch := make(chan callResult, 1)
	b.pending[id] = ch
	stdin := b.stdin
	b.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Method: method, Params: c})
	if err != nil {
		b.removePending(id)
		return fmt.Errorf("helper: %s: encode request: %w", method, err)
	}
	payload = append(payload, '\n')

	b.writeMu.Lock()
	_, err = stdin.Write(payload)
	b.writeMu.Unlock()
	if err != nil {
		b.removePending(id)
		return fmt.Errorf("helper: %s: write request: %w", method, err)
	}

	timer := time.NewTimer(b.callTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("helper: %s: %w", method, res.err)
		}
		if res.resp.Error != nil {
			return fmt.Errorf("helper: %s: %w", method, res.resp.Error)
		}
		if out != nil && len(res.resp.Result) > 0 {
			if err := json.Unmarshal(res.resp.Result, out); err != nil {
				return fmt.Errorf("helper: %s: decode result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		b.removePending(id)
		b.mu.Lock()
		b.timeouts++
		b.mu.Unlock()
		if b.onTimeout != nil {
			b.onTimeout()
		}
		return fmt.Errorf("helper: %s: %w after %s", method, ErrTimeout, b.callTimeout)
	case <-ctx.Done():
		b.removePending(id)
		return fmt.Errorf("helper: %s: %w", method, ctx.Err())
	}
}

func (b *Bridge) removePending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// readLoop decodes inbound lines for one process incarnation. Responses are
// dispatched to their pending call; lines without a pending id are tried as
// push events; anything else is logged and dropped.
func (b *Bridge) readLoop(gen int, stdout io.ReadCloser) {
	defer stdout.Close()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != "" && (resp.Result != nil || resp.Error != nil) {
			b.mu.Lock()
			ch, ok := b.pending[resp.ID]
			delete(b.pending, resp.ID)
			stale := gen != b.gen
			b.mu.Unlock()
			if stale || !ok {
				b.log.Debug("dropping response with no pending call", "id", resp.ID)
				continue
			}
			ch <- callResult{resp: resp}
			continue
		}
		if ev, ok := parseEvent(line); ok {
			b.emit(ev)
			continue
		}
		b.log.Debug("unrecognized helper output", "line", string(line))
	}
	if err := scanner.Err(); err != nil {
		b.log.Debug("helper stdout closed", "error", err)
	}
}

// waitLoop waits for one process incarnation to exit, rejects its pending
// calls and applies the restart policy.
func (b *Bridge) waitLoop(gen int, t Transport) {
	status, waitErr := t.Wait()

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	uptime := time.Since(b.startedAt)
	b.transport = nil
	b.stdin = nil
	b.lastExit = status
	b.rejectPendingLocked(fmt.Errorf("%w (helper exited, %s)", ErrUnavailable, status))

	if b.stopping || (status.Normal() && waitErr == nil) {
		b.mu.Unlock()
		b.log.Info("helper process exited", "status", status.String())
		return
	}

	// Abnormal exit. A helper that ran stably long enough gets a fresh
	// restart budget before this crash is counted.
	if uptime >= b.stabilityWindow {
		b.restarts = 0
	}
	if b.restarts >= b.maxRestarts {
		b.failed = true
		restarts := b.restarts
		b.mu.Unlock()
		b.log.Error("helper crashed and restart budget is exhausted",
			"status", status.String(), "restarts", restarts)
		b.emit(CrashEvent{Exit: status})
		b.emit(FailureEvent{Restarts: restarts})
		return
	}
	b.restarts++
	attempt := b.restarts
	b.mu.Unlock()

	b.log.Warn("helper crashed, restarting",
		"status", status.String(), "uptime", uptime, "attempt", attempt, "max", b.maxRestarts)
	b.emit(CrashEvent{Exit: status})

	time.Sleep(b.restartDelay)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return
	}
	if err := b.spawnLocked(context.Background()); err != nil {
		b.log.Error("helper restart failed", "error", err, "attempt", attempt)
		if b.restarts >= b.maxRestarts {
			b.failed = true
			b.emit(FailureEvent{Restarts: b.restarts})
			return
		}
		b.restarts++
		go b.retrySpawn()
	}
}

// retrySpawn handles a failed respawn attempt outside the crash path.
func (b *Bridge) retrySpawn() {
	time.Sleep(b.restartDelay)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping || b.failed || b.transport != nil {
		return
	}
	if err := b.spawnLocked(context.Background()); err != nil {
		b.log.Error("helper restart failed", "error", err)
		if b.restarts >= b.maxRestarts {
			b.failed = true
			b.emit(FailureEvent{Restarts: b.restarts})
			return
		}
		b.restarts++
		go b.retrySpawn()
	}
}

// rejectPendingLocked fails every in-flight call. Caller holds b.mu.
func (b *Bridge) rejectPendingLocked(err error) {
	for id, ch := range b.pending {
		ch <- callResult{err: err}
		delete(b.pending, id)
	}
}

// emit delivers an event without blocking the caller; undrained events are
// dropped.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Debug("dropping helper event, channel full")
	}
}
