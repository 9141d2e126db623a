package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CaseEnsurer guarantees a backend case exists before hearing or judgment
// calls. It returns a preconfigured id, or creates one case and remembers it.
type CaseEnsurer struct {
	client   *Client
	sessions SessionSource
	template CaseCreate
	logger   *slog.Logger

	mu     sync.Mutex
	caseID string
}

// SessionSource makes sure a session exists before the case is created;
// *session.Cache satisfies it.
type SessionSource interface {
	GetOrCreate(ctx context.Context) (string, error)
}

func NewCaseEnsurer(client *Client, sessions SessionSource, caseID string, template CaseCreate, logger *slog.Logger) *CaseEnsurer {
	return &CaseEnsurer{
		client:   client,
		sessions: sessions,
		template: template,
		caseID:   caseID,
		logger:   logger,
	}
}

// EnsureCase returns the case id, creating the case on first use. The lock is
// held across creation so concurrent callers never create two cases.
func (e *CaseEnsurer) EnsureCase(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.caseID != "" {
		return e.caseID, nil
	}
	if _, err := e.sessions.GetOrCreate(ctx); err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}
	c, err := e.client.CreateCase(ctx, e.template)
	if err != nil {
		return "", fmt.Errorf("create case: %w", err)
	}
	e.caseID = c.ID
	e.logger.Info("case created", "case_id", c.ID)
	return e.caseID, nil
}

// CaseID returns the known case id without creating one.
func (e *CaseEnsurer) CaseID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caseID
}
