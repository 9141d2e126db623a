package hearing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/gavel/internal/backend"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

// --- clock ---

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the oldest active timer and reports whether one existed.
func (c *fakeClock) fire() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	c.now = c.now.Add(next.delay)
	c.mu.Unlock()

	next.fn()
	return true
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

// --- socket ---

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	in   chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.done:
		return nil, errConnClosed
	default:
	}
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) push(frame string) { c.in <- []byte(frame) }

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if d.fail {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// --- backend ---

type fakeBackend struct {
	mu        sync.Mutex
	hearing   *backend.Hearing
	conflict  bool
	createErr error
	reply     func(in backend.HearingMessageCreate) (*backend.HearingExchange, error)

	creates int
	gets    int
	posted  []backend.HearingMessageCreate
}

func (b *fakeBackend) CreateHearing(ctx context.Context, caseID, archetypeID string) (*backend.Hearing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return nil, b.createErr
	}
	if b.conflict {
		return nil, &transport.Error{
			Kind:    transport.KindHTTP,
			Status:  http.StatusConflict,
			Code:    "hearing_exists",
			Message: "Hearing already exists for this case.",
		}
	}
	h := *b.hearing
	return &h, nil
}

func (b *fakeBackend) GetHearing(ctx context.Context, caseID string) (*backend.Hearing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	h := *b.hearing
	return &h, nil
}

func (b *fakeBackend) PostHearingMessage(ctx context.Context, caseID string, in backend.HearingMessageCreate) (*backend.HearingExchange, error) {
	b.mu.Lock()
	b.posted = append(b.posted, in)
	reply := b.reply
	b.mu.Unlock()
	if reply == nil {
		return nil, &transport.Error{Kind: transport.KindNetwork, Message: "network request failed"}
	}
	return reply(in)
}

func (b *fakeBackend) postCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posted)
}

// judgeReplies answers each posted message with the next judge sequence,
// the way the backend stores party at max+1 and judge at max+2.
func judgeReplies(start int) func(in backend.HearingMessageCreate) (*backend.HearingExchange, error) {
	var mu sync.Mutex
	next := start
	return func(in backend.HearingMessageCreate) (*backend.HearingExchange, error) {
		mu.Lock()
		defer mu.Unlock()
		next += 2
		return &backend.HearingExchange{
			JudgeMessage: sequencer.Message{
				ID:       "judge-" + in.Content,
				Role:     sequencer.RoleJudge,
				Content:  "Noted: " + in.Content,
				Sequence: next,
			},
		}, nil
	}
}

type fakeSessions struct{}

func (fakeSessions) GetOrCreate(ctx context.Context) (string, error) { return "sess-1", nil }

type recordingObserver struct {
	mu       sync.Mutex
	messages []sequencer.Message
	changes  []StateChange
}

func (o *recordingObserver) OnMessage(caseID string, m sequencer.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, m)
}

func (o *recordingObserver) OnStateChange(change StateChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, change)
}

func (o *recordingObserver) states() []ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []ConnectionState
	for _, c := range o.changes {
		if c.From != c.To {
			out = append(out, c.To)
		}
	}
	return out
}

// --- helpers ---

func openingHearing() *backend.Hearing {
	return &backend.Hearing{
		ID:          "hearing-1",
		CaseID:      "case-1",
		ArchetypeID: "common_sense",
		StartedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Messages: []sequencer.Message{
			{ID: "m1", HearingID: "hearing-1", Role: sequencer.RoleJudge, Content: "Please state your case.", Sequence: 1},
		},
	}
}

func testBackoff() Backoff {
	return Backoff{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ctrl    *Controller
	backend *fakeBackend
	dialer  *fakeDialer
	clock   *fakeClock
}

func newHarness(t *testing.T, be *fakeBackend, opts ...Option) *harness {
	t.Helper()
	h := &harness{backend: be, dialer: &fakeDialer{}, clock: newFakeClock()}
	all := append([]Option{
		WithDialer(h.dialer),
		WithClock(h.clock),
		WithLogger(discardLogger()),
	}, opts...)
	h.ctrl = New(
		Config{BaseURL: "http://backend.test", ArchetypeID: "common_sense", Backoff: testBackoff()},
		be,
		fakeSessions{},
		func(ctx context.Context) (string, error) { return "case-1", nil },
		all...,
	)
	t.Cleanup(h.ctrl.Close)
	return h
}
