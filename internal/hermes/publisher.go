package hermes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
)

const (
	SubjectMessage = "gavel.hearing.message"
	SubjectState   = "gavel.hearing.state"
)

// MessageEvent is published for every transcript insert or confirmation.
type MessageEvent struct {
	CaseID    string            `json:"case_id"`
	Message   sequencer.Message `json:"message"`
	Published time.Time         `json:"published_at"`
}

// StateEvent is published when the connection state or conclusion changes.
type StateEvent struct {
	CaseID    string    `json:"case_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Concluded bool      `json:"concluded"`
	Status    string    `json:"status"`
	Published time.Time `json:"published_at"`
}

// Sink is where events go. *Client satisfies it.
type Sink interface {
	PublishEvent(subject, msgID string, data any) error
}

// messageID keys a transcript event so that a redelivered message, and the
// confirmation of a pending one, each publish under a stable id.
func messageID(caseID string, m sequencer.Message) string {
	state := "confirmed"
	if m.Pending {
		state = "pending"
	}
	return fmt.Sprintf("%s:%d:%s", caseID, m.Sequence, state)
}

// Publisher forwards hearing notifications to NATS. Publish failures are
// logged and dropped; they never reach the controller.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	return &Publisher{sink: sink, logger: logger, now: time.Now}
}

func (p *Publisher) OnMessage(caseID string, m sequencer.Message) {
	ev := MessageEvent{CaseID: caseID, Message: m, Published: p.now().UTC()}
	if err := p.sink.PublishEvent(SubjectMessage, messageID(caseID, m), ev); err != nil {
		p.logger.Warn("publish hearing message failed", "case_id", caseID, "sequence", m.Sequence, "error", err)
	}
}

func (p *Publisher) OnStateChange(change hearing.StateChange) {
	ev := StateEvent{
		CaseID:    change.CaseID,
		From:      change.From.String(),
		To:        change.To.String(),
		Concluded: change.Concluded,
		Status:    change.Status,
		Published: p.now().UTC(),
	}
	if err := p.sink.PublishEvent(SubjectState, "", ev); err != nil {
		p.logger.Warn("publish hearing state failed", "case_id", change.CaseID, "state", ev.To, "error", err)
	}
}
