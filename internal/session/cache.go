// Package session caches the server-issued session credential for the
// lifetime of the process. Nothing is written to disk; a restart simply
// creates a new session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

const (
	createPath     = "/sessions"
	headerAdminKey = "X-Admin-Key"
)

type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// Session mirrors the backend session resource.
type Session struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Creator issues the creation call. *transport.Client satisfies it.
type Creator interface {
	Do(ctx context.Context, method, path string, body, out any, opts *transport.RequestOptions) error
}

// Cache holds at most one session. It implements transport.CredentialSource.
type Cache struct {
	creator  Creator
	adminKey string
	logger   *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current *Session
}

func NewCache(creator Creator, adminKey string, logger *slog.Logger) *Cache {
	return &Cache{
		creator:  creator,
		adminKey: adminKey,
		logger:   logger,
	}
}

// Current returns the cached session id, or "" before creation.
func (c *Cache) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.ID
}

// Session returns a copy of the cached session.
func (c *Cache) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}

// GetOrCreate returns the cached id or creates the session. Callers arriving
// while a creation call is pending wait for that call instead of issuing
// another; a failed creation is not cached. The shared call is detached from
// the first caller's cancellation, and each caller stops waiting when its own
// ctx is done.
func (c *Cache) GetOrCreate(ctx context.Context) (string, error) {
	if id := c.Current(); id != "" {
		return id, nil
	}

	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan("session", func() (any, error) {
		if id := c.Current(); id != "" {
			return id, nil
		}
		s, err := c.create(flight)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.current = s
		c.mu.Unlock()
		c.logger.Info("session created", "session_id", s.ID, "role", s.Role)
		return s.ID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("create session: %w", ctx.Err())
	}
}

func (c *Cache) create(ctx context.Context) (*Session, error) {
	opts := &transport.RequestOptions{Anonymous: true}
	if c.adminKey != "" {
		opts.Header = http.Header{headerAdminKey: []string{c.adminKey}}
	}

	var s Session
	if err := c.creator.Do(ctx, http.MethodPost, createPath, nil, &s, opts); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return nil, fmt.Errorf("create session: backend returned an empty session id")
	}
	return &s, nil
}

// Set seeds the cache with a known session, e.g. one recovered from the
// backend's session cookie.
func (c *Cache) Set(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &s
}
