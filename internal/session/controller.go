package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"production-test/internal/capture"
	"production-test/internal/display"
	"production-test/internal/export"
	"production-test/internal/protocol"
	"production-test/internal/stats"
	"production-test/internal/telemetry"
	"production-test/internal/transport"
)

// ErrSessionActive is returned by Start while another session runs.
var ErrSessionActive = errors.New("a session is already running")

// eventBuffer is the capacity of the events channel handed to the caller.
const eventBuffer = 64

// Dialer opens the datagram endpoint for a session.
type Dialer func(ep transport.Endpoint) (transport.Conn, error)

// Exporter writes the final readings to a file and returns its path.
type Exporter interface {
	Export(ctx context.Context, req export.Request) (string, error)
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Journal receives every telemetry sample as it arrives.
type Journal interface {
	Handle(s capture.Sample) error
	Close()
}

// JournalFactory opens a journal for a new session.
type JournalFactory func(sessionID string) (Journal, error)

// Controller runs production test sessions, one at a time.
type Controller struct {
	params   Parameters
	dial     Dialer
	exporter Exporter
	recorder Recorder
	journal  JournalFactory
	redraw   display.RedrawFunc
	budget   time.Duration
	now      func() time.Time

	active atomic.Bool
	state  atomic.Int32
}

// Option customises a Controller.
type Option func(*Controller)

func WithDialer(d Dialer) Option { return func(c *Controller) { c.dial = d } }
func WithExporter(e Exporter) Option { return func(c *Controller) { c.exporter = e } }
func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }
func WithJournal(f JournalFactory) Option { return func(c *Controller) { c.journal = f } }
func WithRedraw(fn display.RedrawFunc) Option { return func(c *Controller) { c.redraw = fn } }
func WithRedrawBudget(d time.Duration) Option { return func(c *Controller) { c.budget = d } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New builds a controller. Parameters are not validated here; see Parameters.Validate.
func New(p Parameters, opts ...Option) *Controller {
	c := &Controller{
		params:   p,
		dial:     dialUDP,
		exporter: export.NewWriter(),
		budget:   display.RedrawBudget,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func dialUDP(ep transport.Endpoint) (transport.Conn, error) {
	return transport.Listen(ep)
}

// State is the state of the running session, or StateIdle between sessions.
func (c *Controller) State() State { return State(c.state.Load()) }

// Active reports whether a session is in progress.
func (c *Controller) Active() bool { return c.active.Load() }

// Start launches a session on its own goroutine. Cancelling ctx requests
// cancellation, which is honoured at the next receive timeout. The returned
// channel delivers progress and state events followed by exactly one
// EventFinished, then closes. The caller must drain it.
func (c *Controller) Start(ctx context.Context) (<-chan Event, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	events := make(chan Event, eventBuffer)
	r := &run{
		c:      c,
		events: events,
		res: Result{
			SessionID: uuid.NewString(),
			Params:    c.params,
			StartedAt: c.now(),
		},
	}
	c.state.Store(int32(StateIdle))
	go r.execute(ctx)
	return events, nil
}

// run is the per-session state. Only the session goroutine touches it.
type run struct {
	c       *Controller
	events  chan<- Event
	res     Result
	state   State
	conn    transport.Conn
	buf     telemetry.Buffer
	device  *telemetry.Device
	sampler *display.Sampler
	journal Journal
	seq     int
}

func (r *run) execute(ctx context.Context) {
	defer r.finish()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("session %s panicked: %v", r.res.SessionID, p)
			r.fail(fmt.Errorf("test execution terminated due to error: %v", p))
		}
		r.cleanup()
	}()

	r.buf.Reset()
	r.setState(StateAwaitingDiscovery)

	conn, err := r.c.dial(r.c.params.endpoint())
	if err != nil {
		r.fail(fmt.Errorf("open transport: %w", err))
		return
	}
	r.conn = conn

	r.progress("Contacting device...")
	if err := conn.Send(protocol.EncodeDiscovery()); err != nil {
		r.fail(err)
		return
	}

	for r.state == StateAwaitingDiscovery || r.state == StateRunning {
		if ctx.Err() != nil {
			r.cancel()
			return
		}
		raw, err := conn.Receive()
		if ctx.Err() != nil {
			r.cancel()
			return
		}
		if errors.Is(err, transport.ErrTimeout) || errors.Is(err, transport.ErrUnreachable) {
			continue
		}
		if err != nil {
			r.fail(err)
			return
		}
		if err := r.handle(raw); err != nil {
			r.fail(err)
			return
		}
	}

	if r.state == StateFinishing {
		r.complete(ctx)
	}
}

func (r *run) handle(raw string) error {
	msg := protocol.Decode(raw)
	if r.state == StateAwaitingDiscovery {
		switch m := msg.(type) {
		case protocol.Discovery:
			return r.discovered(m)
		case protocol.Unknown:
			r.progress("ERROR: Unknown message type received: " + m.Tag)
		case protocol.Malformed:
			r.progress("ERROR: Malformed message received: " + m.Reason)
		default:
			r.progress("ERROR: Message received before discovery reply was ignored")
		}
		return nil
	}

	switch m := msg.(type) {
	case protocol.Telemetry:
		return r.ingest(m)
	case protocol.TestResult:
		switch m.Status {
		case protocol.StatusStarted:
			r.progress("Receiving test data...")
		case protocol.StatusStopped:
			r.progress("Test finishing...")
			r.setState(StateFinishing)
		case protocol.StatusError:
			// ERROR does not end the session; only STOPPED or cancellation do.
			r.progress("ERROR: " + m.Text)
		}
	case protocol.Discovery:
		r.progress("ERROR: Repeated discovery reply ignored")
	case protocol.Unknown:
		r.progress("ERROR: Unknown message type received: " + m.Tag)
	case protocol.Malformed:
		r.progress("ERROR: Malformed message received: " + m.Reason)
	}
	return nil
}

func (r *run) discovered(m protocol.Discovery) error {
	r.progress("Connection established!")
	dev := telemetry.Device{Model: m.Model, Serial: m.Serial}
	r.device = &dev
	r.res.Device = dev

	factor := display.ThrottleFactor(r.c.budget, r.c.params.Interval)
	r.sampler = display.NewSampler(factor, r.c.params.DisplayWindow, r.c.redraw)

	if r.c.journal != nil {
		j, err := r.c.journal(r.res.SessionID)
		if err != nil {
			log.Printf("session %s: journal disabled: %v", r.res.SessionID, err)
		} else {
			r.journal = j
		}
	}

	r.progress("Starting test...")
	if err := r.conn.Send(protocol.EncodeStart(r.c.params.DurationMs(), r.c.params.IntervalMs())); err != nil {
		return err
	}
	r.setState(StateRunning)
	return nil
}

func (r *run) ingest(t protocol.Telemetry) error {
	if err := r.buf.Append(t.TimeMs, t.MilliVolts, t.MilliAmps); err != nil {
		return err
	}
	if r.journal != nil {
		err := r.journal.Handle(capture.Sample{
			SessionID:  r.res.SessionID,
			Seq:        r.seq,
			TimeMs:     t.TimeMs,
			MilliVolts: t.MilliVolts,
			MilliAmps:  t.MilliAmps,
			Received:   r.c.now(),
		})
		if err != nil {
			log.Printf("session %s: journal sample %d: %v", r.res.SessionID, r.seq, err)
		}
	}
	r.seq++
	r.sampler.Offer(&r.buf)
	return nil
}

func (r *run) cancel() {
	if r.conn != nil {
		if err := r.conn.Send(protocol.EncodeStop()); err != nil {
			r.progress("ERROR: " + err.Error())
		}
	}
	r.res.Outcome = OutcomeCancelled
	r.progress("Test cancelled")
	r.setState(StateCancelled)
}

func (r *run) complete(ctx context.Context) {
	readings := r.buf.Snapshot()
	summary, err := stats.Summarize(readings)
	if err != nil {
		r.fail(err)
		return
	}
	r.res.Summary = &summary
	for _, line := range summary.Lines() {
		r.progress(line)
	}
	r.res.Outcome = OutcomeCompleted
	r.progress("Test completed successfully!")

	p := r.c.params
	if p.GenerateFile && r.c.exporter != nil {
		req := export.NewRequest(*r.device, readings, summary, p.Format, p.OutputDir, r.c.now())
		path, err := r.export(context.WithoutCancel(ctx), req)
		if err != nil {
			r.progress("ERROR: export failed: " + err.Error())
		} else {
			r.res.ExportPath = path
			r.progress("Check 'Production Test Data' files for saved output.")
		}
	}
	r.setState(StateCompleted)
}

// export turns an exporter panic into an ordinary export error.
func (r *run) export(ctx context.Context, req export.Request) (path string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("exporter panicked: %v", p)
		}
	}()
	return r.c.exporter.Export(ctx, req)
}

func (r *run) fail(err error) {
	r.res.Outcome = OutcomeError
	r.res.Err = err
	r.progress("ERROR: " + err.Error())
	r.setState(StateError)
}

// cleanup runs on every exit path. Collaborator failures are logged only.
func (r *run) cleanup() {
	if r.res.Outcome == "" {
		r.fail(errors.New("test ended for unknown reason"))
	}
	if r.journal != nil {
		r.safely("close journal", r.journal.Close)
	}
	if r.conn != nil {
		r.safely("close transport", func() {
			if err := r.conn.Close(); err != nil {
				log.Printf("session %s: close transport: %v", r.res.SessionID, err)
			}
		})
	}
	r.res.Readings = r.buf.Snapshot()
	r.res.FinishedAt = r.c.now()
	if r.c.recorder != nil {
		res := r.res
		r.safely("record history", func() {
			if err := r.c.recorder.Record(context.Background(), res); err != nil {
				log.Printf("session %s: record history: %v", r.res.SessionID, err)
			}
		})
	}

	r.buf.Reset()
	r.device = nil
	r.sampler = nil
}

func (r *run) safely(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("session %s: %s panicked: %v", r.res.SessionID, what, p)
		}
	}()
	fn()
}

// finish returns the controller to Idle and delivers the single finished event.
func (r *run) finish() {
	res := r.res
	if res.FinishedAt.IsZero() {
		res.FinishedAt = r.c.now()
	}
	r.c.state.Store(int32(StateIdle))
	r.c.active.Store(false)
	r.events <- Event{Kind: EventFinished, SessionID: res.SessionID, Result: &res, Time: res.FinishedAt}
	close(r.events)
}

func (r *run) setState(s State) {
	r.state = s
	r.c.state.Store(int32(s))
	r.emit(Event{Kind: EventState, State: s})
}

func (r *run) progress(text string) {
	r.emit(Event{Kind: EventProgress, Text: text})
}

func (r *run) emit(e Event) {
	e.SessionID = r.res.SessionID
	e.Time = r.c.now()
	r.events <- e
}
