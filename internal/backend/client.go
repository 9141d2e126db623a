// Package backend binds the hearing backend's HTTP routes to typed calls.
// Every call goes through the resilient request client; reads get its default
// retry budget, writes fail fast unless noted.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

const ingestTimeout = 10 * time.Minute

// Doer is the subset of *transport.Client used here.
type Doer interface {
	Do(ctx context.Context, method, path string, body, out any, opts *transport.RequestOptions) error
}

type Client struct {
	http Doer
}

func New(d Doer) *Client {
	return &Client{http: d}
}

func casePath(caseID string, suffix string) string {
	return "/cases/" + url.PathEscape(caseID) + suffix
}

func pageQuery(p *Page) url.Values {
	if p == nil {
		return nil
	}
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	return q
}

// --- cases ---

func (c *Client) CreateCase(ctx context.Context, in CaseCreate) (*Case, error) {
	var out Case
	if err := c.http.Do(ctx, http.MethodPost, "/cases", in, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCase(ctx context.Context, caseID string) (*Case, error) {
	var out Case
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, ""), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCase is a full-field PUT with omitted fields left unchanged, so
// repeating it is harmless; it opts into one retry.
func (c *Client) UpdateCase(ctx context.Context, caseID string, in CaseUpdate) (*Case, error) {
	var out Case
	opts := &transport.RequestOptions{RetryOnce: true}
	if err := c.http.Do(ctx, http.MethodPut, casePath(caseID, ""), in, &out, opts); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddParty(ctx context.Context, caseID string, in PartyCreate) (*Party, error) {
	var out Party
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/parties"), in, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddEvidence(ctx context.Context, caseID string, in EvidenceCreate) (*Evidence, error) {
	body, err := evidenceForm(in)
	if err != nil {
		return nil, fmt.Errorf("build evidence form: %w", err)
	}
	var out Evidence
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/evidence"), body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func evidenceForm(in EvidenceCreate) (transport.RawBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"submitted_by", string(in.SubmittedBy)},
		{"evidence_type", string(in.EvidenceType)},
		{"title", in.Title},
		{"description", in.Description},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return transport.RawBody{}, err
		}
	}
	if in.FileName != "" {
		part, err := w.CreateFormFile("file", in.FileName)
		if err != nil {
			return transport.RawBody{}, err
		}
		if _, err := part.Write(in.File); err != nil {
			return transport.RawBody{}, err
		}
	}
	if err := w.Close(); err != nil {
		return transport.RawBody{}, err
	}
	return transport.RawBody{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

func (c *Client) AddTimelineEvent(ctx context.Context, caseID string, in TimelineEventCreate) (*TimelineEvent, error) {
	var out TimelineEvent
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/timeline"), in, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Timeline(ctx context.Context, caseID string, page *Page) ([]TimelineEvent, error) {
	var out []TimelineEvent
	opts := &transport.RequestOptions{Query: pageQuery(page)}
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, "/timeline"), nil, &out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// --- hearing ---

func (c *Client) CreateHearing(ctx context.Context, caseID, archetypeID string) (*Hearing, error) {
	var out Hearing
	body := map[string]string{"archetype_id": archetypeID}
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/hearing"), body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetHearing(ctx context.Context, caseID string) (*Hearing, error) {
	var out Hearing
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, "/hearing"), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostHearingMessage is the request/response fallback for one exchange. It is
// never retried: a repeat would store the party message twice.
func (c *Client) PostHearingMessage(ctx context.Context, caseID string, in HearingMessageCreate) (*HearingExchange, error) {
	var out HearingExchange
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/hearing/message"), in, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- judgment ---

// GenerateJudgment runs the judgment pipeline. A judgment that already exists
// (409) is fetched instead.
func (c *Client) GenerateJudgment(ctx context.Context, caseID, archetypeID string) (*Judgment, error) {
	var out Judgment
	body := map[string]string{"archetype_id": archetypeID}
	err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/judgment"), body, &out, nil)
	if transport.IsConflict(err) {
		return c.GetJudgment(ctx, caseID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetJudgment(ctx context.Context, caseID string) (*Judgment, error) {
	var out Judgment
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, "/judgment"), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JudgmentMetadata(ctx context.Context, caseID string, page *Page) (*JudgmentMetadata, error) {
	var out JudgmentMetadata
	opts := &transport.RequestOptions{Query: pageQuery(page)}
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, "/judgment/metadata"), nil, &out, opts); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateComparisonRun asks several judge archetypes for a verdict. The backend
// reuses an equivalent run unless ForceRefresh is set, so one retry is safe.
func (c *Client) CreateComparisonRun(ctx context.Context, caseID string, in ComparisonRunCreate) (*ComparisonRun, error) {
	var out ComparisonRun
	opts := &transport.RequestOptions{RetryOnce: !in.ForceRefresh}
	if err := c.http.Do(ctx, http.MethodPost, casePath(caseID, "/comparison-runs"), in, &out, opts); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ComparisonRuns(ctx context.Context, caseID string) ([]ComparisonRun, error) {
	var out []ComparisonRun
	if err := c.http.Do(ctx, http.MethodGet, casePath(caseID, "/comparison-runs"), nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ComparisonRun(ctx context.Context, caseID, runID string) (*ComparisonRun, error) {
	var out ComparisonRun
	path := casePath(caseID, "/comparison-runs/"+url.PathEscape(runID))
	if err := c.http.Do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- corpus, archetypes, auth ---

// SearchCorpus is a POST but read-only, so it gets the idempotent budget.
func (c *Client) SearchCorpus(ctx context.Context, in CorpusSearchRequest) ([]CorpusSearchResult, error) {
	var out []CorpusSearchResult
	opts := &transport.RequestOptions{Retries: transport.Retries(2)}
	if err := c.http.Do(ctx, http.MethodPost, "/corpus/search", in, &out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestCorpus re-embeds the whole corpus; it can run for minutes.
func (c *Client) IngestCorpus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	opts := &transport.RequestOptions{Timeout: ingestTimeout}
	if err := c.http.Do(ctx, http.MethodPost, "/corpus/ingest", nil, &out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CorpusStats(ctx context.Context) (*CorpusStats, error) {
	var out CorpusStats
	if err := c.http.Do(ctx, http.MethodGet, "/corpus/stats", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Archetypes(ctx context.Context) ([]Archetype, error) {
	var out []Archetype
	if err := c.http.Do(ctx, http.MethodGet, "/archetypes", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Me(ctx context.Context) (*AuthMe, error) {
	var out AuthMe
	if err := c.http.Do(ctx, http.MethodGet, "/auth/me", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AdminLogin(ctx context.Context, adminKey string) error {
	body := map[string]string{"admin_key": adminKey}
	return c.http.Do(ctx, http.MethodPost, "/auth/admin-login", body, nil, nil)
}
