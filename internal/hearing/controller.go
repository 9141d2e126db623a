// Package hearing keeps one continuous, ordered judge conversation alive over
// a realtime socket, reconnecting with backoff and falling back to plain HTTP
// when the socket cannot be kept open.
package hearing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/gavel/internal/backend"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

const dialTimeout = 15 * time.Second

// codeHearingConcluded is the backend's refusal code for a message sent to a
// finished hearing.
const codeHearingConcluded = "hearing_concluded"

var (
	ErrNoCase      = errors.New("hearing: no case available")
	ErrInvalidRole = errors.New("hearing: role must be plaintiff or defendant")
)

// Backend is the subset of *backend.Client the controller calls.
type Backend interface {
	CreateHearing(ctx context.Context, caseID, archetypeID string) (*backend.Hearing, error)
	GetHearing(ctx context.Context, caseID string) (*backend.Hearing, error)
	PostHearingMessage(ctx context.Context, caseID string, in backend.HearingMessageCreate) (*backend.HearingExchange, error)
}

// SessionSource resolves the session id passed on the socket URL.
type SessionSource interface {
	GetOrCreate(ctx context.Context) (string, error)
}

// EnsureCaseFunc returns the id of the case the hearing belongs to.
type EnsureCaseFunc func(ctx context.Context) (string, error)

// StateChange describes a connection-state or conclusion change.
type StateChange struct {
	CaseID    string          `json:"case_id"`
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Concluded bool            `json:"concluded"`
	Status    string          `json:"status"`
}

// Observer is notified outside the controller lock, in the order changes
// were made by any one goroutine.
type Observer interface {
	OnMessage(caseID string, m sequencer.Message)
	OnStateChange(change StateChange)
}

type Config struct {
	BaseURL     string
	ArchetypeID string
	Backoff     Backoff
}

type Option func(*Controller)

func WithDialer(d Dialer) Option {
	return func(c *Controller) { c.dialer = d }
}

func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithOnError registers the callback for server-sent error frames.
func WithOnError(f func(message string)) Option {
	return func(c *Controller) { c.onError = f }
}

// Snapshot is a consistent copy of the controller's visible state.
type Snapshot struct {
	CaseID     string               `json:"case_id"`
	HearingID  string               `json:"hearing_id"`
	State      ConnectionState      `json:"state"`
	Status     string               `json:"status"`
	Concluded  bool                 `json:"concluded"`
	Transcript sequencer.Transcript `json:"transcript"`
}

type Controller struct {
	cfg        Config
	backend    Backend
	sessions   SessionSource
	ensureCase EnsureCaseFunc
	dialer     Dialer
	clock      Clock
	logger     *slog.Logger
	onError    func(string)
	observers  []Observer

	mu         sync.Mutex
	state      ConnectionState
	beginning  bool
	caseID     string
	hearingID  string
	sessionID  string
	transcript sequencer.Transcript
	concluded  bool
	status     string
	conn       Conn
	// generation is bumped whenever the current connection, dial or timer is
	// abandoned; callbacks carrying an older value are ignored.
	generation  uint64
	attempts    int
	timer       Timer
	intentional bool
	outbox      []func()
}

func New(cfg Config, be Backend, sessions SessionSource, ensureCase EnsureCaseFunc, opts ...Option) *Controller {
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	c := &Controller{
		cfg:        cfg,
		backend:    be,
		sessions:   sessions,
		ensureCase: ensureCase,
		dialer:     NewWebsocketDialer(),
		clock:      systemClock{},
		logger:     slog.Default(),
		status:     "Idle",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginHearing creates (or resumes) the case's hearing, seeds the transcript
// and opens the realtime channel. It does nothing while a hearing is already
// starting or connected. Socket failures are handled internally and never
// returned.
func (c *Controller) BeginHearing(ctx context.Context) error {
	c.mu.Lock()
	if c.beginning || c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.beginning = true
	token := c.generation
	c.setStatus("Preparing hearing")
	c.unlockAndNotify()

	h, sessionID, err := c.prepare(ctx)

	c.mu.Lock()
	c.beginning = false
	if err != nil {
		c.setStatus("Could not start hearing")
		c.unlockAndNotify()
		return err
	}
	if token != c.generation {
		// Closed while the hearing was being prepared.
		c.unlockAndNotify()
		return nil
	}

	c.caseID = h.CaseID
	c.hearingID = h.ID
	c.sessionID = sessionID
	c.attempts = 0
	c.intentional = false
	c.transcript = nil
	c.mergeLocked(h.Messages...)

	if h.Concluded() {
		c.concluded = true
		c.setStatus("Hearing concluded")
		c.emitStateLocked(c.state)
		c.unlockAndNotify()
		c.logger.Info("hearing already concluded", "case_id", h.CaseID, "messages", len(h.Messages))
		return nil
	}
	c.concluded = false

	c.setStatus("Connecting to courtroom")
	c.setState(Next(c.state, EventBegin, true))
	c.generation++
	gen := c.generation
	c.unlockAndNotify()

	c.logger.Info("hearing started", "case_id", h.CaseID, "hearing_id", h.ID, "messages", len(h.Messages))
	c.connect(ctx, gen)
	return nil
}

func (c *Controller) prepare(ctx context.Context) (*backend.Hearing, string, error) {
	caseID, err := c.ensureCase(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("ensure case: %w", err)
	}
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, "", ErrNoCase
	}

	sessionID, err := c.sessions.GetOrCreate(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolve session: %w", err)
	}

	h, err := c.backend.CreateHearing(ctx, caseID, c.cfg.ArchetypeID)
	if transport.IsConflict(err) {
		c.logger.Debug("hearing exists, fetching", "case_id", caseID)
		h, err = c.backend.GetHearing(ctx, caseID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("start hearing: %w", err)
	}
	if h.CaseID == "" {
		h.CaseID = caseID
	}
	return h, sessionID, nil
}

// connect dials on behalf of generation gen. It is called without the lock.
func (c *Controller) connect(ctx context.Context, gen uint64) {
	c.mu.Lock()
	caseID, sessionID := c.caseID, c.sessionID
	c.mu.Unlock()

	conn, err := c.dial(ctx, caseID, sessionID)

	c.mu.Lock()
	if gen != c.generation || c.intentional {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("hearing socket dial failed", "case_id", caseID, "error", err)
		c.handleLossLocked()
		c.unlockAndNotify()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.setStatus("Connected to courtroom")
	c.setState(Next(c.state, EventOpened, true))
	c.unlockAndNotify()

	c.logger.Info("hearing socket connected", "case_id", caseID)
	go c.readLoop(conn, gen)
}

func (c *Controller) dial(ctx context.Context, caseID, sessionID string) (Conn, error) {
	rawURL, err := SocketURL(c.cfg.BaseURL, caseID, sessionID)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return c.dialer.Dial(dctx, rawURL)
}

func (c *Controller) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(gen, err)
			return
		}
		c.onFrame(gen, data)
	}
}

func (c *Controller) onClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || c.intentional {
		c.mu.Unlock()
		return
	}
	c.logger.Info("hearing socket closed", "case_id", c.caseID, "concluded", c.concluded, "error", err)
	c.handleLossLocked()
	c.unlockAndNotify()
}

// handleLossLocked reacts to a failed dial or a lost socket: it abandons the
// connection and either schedules the next attempt or gives up.
func (c *Controller) handleLossLocked() {
	conn := c.conn
	c.conn = nil
	c.generation++
	gen := c.generation
	if conn != nil {
		c.outbox = append(c.outbox, func() { conn.Close() })
	}

	if c.concluded {
		c.setStatus("Hearing concluded")
		c.setState(Next(c.state, EventTeardown, false))
		return
	}

	next := Next(c.state, EventClosed, c.cfg.Backoff.Allows(c.attempts+1))
	if next != Reconnecting {
		c.setStatus("Live connection unavailable, continuing over HTTP")
		c.setState(next)
		c.logger.Warn("hearing reconnect budget exhausted", "case_id", c.caseID, "attempts", c.attempts)
		return
	}

	c.attempts++
	delay := c.cfg.Backoff.Delay(c.attempts)
	c.setStatus(fmt.Sprintf("Connection lost, reconnecting (%d/%d)", c.attempts, c.cfg.Backoff.MaxAttempts))
	c.setState(next)
	c.logger.Info("hearing reconnect scheduled", "case_id", c.caseID, "attempt", c.attempts, "delay", delay)
	c.timer = c.clock.AfterFunc(delay, func() { c.onTimer(gen) })
}

func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.intentional || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setState(Next(c.state, EventTimerFired, true))
	c.unlockAndNotify()

	c.connect(context.Background(), gen)
}

func (c *Controller) onFrame(gen uint64, data []byte) {
	c.mu.Lock()
	if gen != c.generation || c.intentional {
		c.mu.Unlock()
		return
	}

	f, err := parseFrame(data)
	if err != nil {
		c.setStatus("Received a malformed message")
		c.logger.Debug("malformed hearing frame", "case_id", c.caseID, "bytes", len(data))
		c.unlockAndNotify()
		return
	}

	switch f.kind {
	case frameUtterance:
		m := f.message
		if m.CreatedAt.IsZero() {
			m.CreatedAt = c.clock.Now()
		}
		if m.Role == sequencer.RoleJudge {
			c.confirmBelowLocked(m.Sequence)
		}
		c.mergeLocked(m)
	case frameConcluded:
		c.markConcludedLocked()
	case frameError:
		c.setStatus("Error: " + f.err)
		c.logger.Warn("hearing error frame", "case_id", c.caseID, "error", f.err)
		if c.onError != nil {
			onError, msg := c.onError, f.err
			c.outbox = append(c.outbox, func() { onError(msg) })
		}
	default:
		c.setStatus("Received an unrecognised message")
	}
	c.unlockAndNotify()
}

// SendMessage submits a party utterance. It is a no-op once the hearing has
// concluded or when content is blank. The message appears in the transcript
// immediately as pending and is confirmed by the judge's reply.
func (c *Controller) SendMessage(ctx context.Context, role sequencer.Role, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if !role.IsParty() {
		return ErrInvalidRole
	}

	c.mu.Lock()
	if c.concluded {
		c.mu.Unlock()
		return nil
	}
	if c.caseID == "" {
		c.mu.Unlock()
		return ErrNoCase
	}

	msg := sequencer.Message{
		ID:        uuid.NewString(),
		HearingID: c.hearingID,
		Role:      role,
		Content:   content,
		Sequence:  sequencer.NextSequence(c.transcript),
		CreatedAt: c.clock.Now(),
		Pending:   true,
	}
	c.mergeLocked(msg)
	caseID := c.caseID

	if c.state == Connected && c.conn != nil {
		conn, gen := c.conn, c.generation
		c.unlockAndNotify()

		err := c.write(conn, role, content)
		if err == nil {
			return nil
		}

		c.mu.Lock()
		if gen == c.generation && !c.intentional {
			c.logger.Warn("hearing socket write failed, using HTTP", "case_id", caseID, "error", err)
			c.handleLossLocked()
		}
		c.unlockAndNotify()
	} else {
		c.unlockAndNotify()
	}

	return c.sendFallback(ctx, caseID, msg)
}

func (c *Controller) write(conn Conn, role sequencer.Role, content string) error {
	data, err := encodeFrame(role, content)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// sendFallback posts one exchange over HTTP and reconciles the reply.
func (c *Controller) sendFallback(ctx context.Context, caseID string, msg sequencer.Message) error {
	ex, err := c.backend.PostHearingMessage(ctx, caseID, backend.HearingMessageCreate{
		Role:    msg.Role,
		Content: msg.Content,
	})

	c.mu.Lock()
	if err != nil {
		c.transcript = sequencer.Remove(c.transcript, msg.ID)
		if te, ok := transport.AsError(err); ok && te.Code == codeHearingConcluded {
			c.logger.Info("backend reports hearing already concluded", "case_id", caseID)
			c.markConcludedLocked()
			if c.timer != nil {
				c.timer.Stop()
				c.timer = nil
				c.generation++
				c.setState(Next(c.state, EventTeardown, false))
			}
			c.unlockAndNotify()
			return nil
		}
		c.setStatus("Message could not be delivered")
		c.unlockAndNotify()
		return err
	}

	judge := ex.JudgeMessage
	if judge.CreatedAt.IsZero() {
		judge.CreatedAt = c.clock.Now()
	}
	c.transcript = sequencer.Remove(c.transcript, msg.ID)
	if judge.Sequence > 1 {
		party := msg
		party.Pending = false
		party.Sequence = judge.Sequence - 1
		c.mergeLocked(party)
	}
	c.confirmBelowLocked(judge.Sequence)
	c.mergeLocked(judge)
	if ex.HearingConcluded {
		c.markConcludedLocked()
	}
	c.unlockAndNotify()
	return nil
}

// Close tears the hearing channel down on purpose. Pending reconnects are
// cancelled; the transcript is kept.
func (c *Controller) Close() {
	c.mu.Lock()
	c.intentional = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if !c.concluded {
		c.setStatus("Disconnected")
	}
	c.setState(Next(c.state, EventTeardown, false))
	c.unlockAndNotify()

	if conn != nil {
		conn.Close()
	}
}

func (c *Controller) Transcript() sequencer.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(sequencer.Transcript, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Concluded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concluded
}

func (c *Controller) CaseID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caseID
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(sequencer.Transcript, len(c.transcript))
	copy(out, c.transcript)
	return Snapshot{
		CaseID:     c.caseID,
		HearingID:  c.hearingID,
		State:      c.state,
		Status:     c.status,
		Concluded:  c.concluded,
		Transcript: out,
	}
}

// --- helpers below expect c.mu held ---

func (c *Controller) mergeLocked(msgs ...sequencer.Message) {
	for _, m := range msgs {
		before := c.transcript
		c.transcript = sequencer.Merge(c.transcript, m)
		if len(c.transcript) == len(before) && !replaced(before, c.transcript, m.Sequence) {
			continue
		}
		c.emitMessageLocked(m)
		for _, moved := range renumbered(before, c.transcript) {
			c.emitMessageLocked(moved)
		}
	}
}

// renumbered returns the pending entries of after whose sequence differs from
// the one they had in before.
func renumbered(before, after sequencer.Transcript) []sequencer.Message {
	was := make(map[string]int)
	for _, m := range before {
		if m.Pending && m.ID != "" {
			was[m.ID] = m.Sequence
		}
	}
	var out []sequencer.Message
	for _, m := range after {
		if seq, ok := was[m.ID]; ok && m.Pending && seq != m.Sequence {
			out = append(out, m)
		}
	}
	return out
}

// replaced reports whether the entry at seq changed from pending to
// authoritative between before and after.
func replaced(before, after sequencer.Transcript, seq int) bool {
	for i := range before {
		if before[i].Sequence == seq {
			return before[i].Pending && !after[i].Pending
		}
	}
	return false
}

func (c *Controller) confirmBelowLocked(seq int) {
	before := c.transcript
	c.transcript = sequencer.ConfirmBelow(c.transcript, seq)
	for i := range before {
		if before[i].Sequence >= seq {
			break
		}
		if before[i].Pending {
			c.emitMessageLocked(c.transcript[i])
		}
	}
}

func (c *Controller) markConcludedLocked() {
	if c.concluded {
		return
	}
	c.concluded = true
	c.setStatus("Hearing concluded")
	c.emitStateLocked(c.state)
	c.logger.Info("hearing concluded", "case_id", c.caseID)
}

func (c *Controller) setState(next ConnectionState) {
	if next == c.state {
		return
	}
	from := c.state
	c.state = next
	c.emitStateLocked(from)
}

func (c *Controller) setStatus(s string) {
	c.status = s
}

func (c *Controller) emitMessageLocked(m sequencer.Message) {
	if len(c.observers) == 0 {
		return
	}
	caseID := c.caseID
	for _, o := range c.observers {
		c.outbox = append(c.outbox, func() { o.OnMessage(caseID, m) })
	}
}

func (c *Controller) emitStateLocked(from ConnectionState) {
	if len(c.observers) == 0 {
		return
	}
	change := StateChange{
		CaseID:    c.caseID,
		From:      from,
		To:        c.state,
		Concluded: c.concluded,
		Status:    c.status,
	}
	for _, o := range c.observers {
		c.outbox = append(c.outbox, func() { o.OnStateChange(change) })
	}
}

// unlockAndNotify releases c.mu and then runs queued notifications.
func (c *Controller) unlockAndNotify() {
	pending := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, f := range pending {
		f()
	}
}
