package backend

import (
	"encoding/json"
	"time"

	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
)

type PartyRole string

const (
	PartyPlaintiff PartyRole = "plaintiff"
	PartyDefendant PartyRole = "defendant"
)

type CaseStatus string

const (
	CaseIntake  CaseStatus = "intake"
	CaseReady   CaseStatus = "ready"
	CaseHearing CaseStatus = "hearing"
	CaseDecided CaseStatus = "decided"
)

type CaseType string

const (
	CaseContract        CaseType = "contract"
	CasePropertyDamage  CaseType = "property_damage"
	CaseSecurityDeposit CaseType = "security_deposit"
	CaseLoanDebt        CaseType = "loan_debt"
	CaseConsumer        CaseType = "consumer"
	CaseOther           CaseType = "other"
)

type EvidenceType string

const (
	EvidenceDocument    EvidenceType = "document"
	EvidencePhoto       EvidenceType = "photo"
	EvidenceReceipt     EvidenceType = "receipt"
	EvidenceTextMessage EvidenceType = "text_message"
	EvidenceEmail       EvidenceType = "email"
	EvidenceContract    EvidenceType = "contract"
	EvidenceOther       EvidenceType = "other"
)

// Amounts are kept as json.Number so decimal values round-trip untouched.

type CaseCreate struct {
	CaseType           *CaseType       `json:"case_type,omitempty"`
	PlaintiffNarrative *string         `json:"plaintiff_narrative,omitempty"`
	DefendantNarrative *string         `json:"defendant_narrative,omitempty"`
	ClaimedAmount      *json.Number    `json:"claimed_amount,omitempty"`
	DamagesBreakdown   json.RawMessage `json:"damages_breakdown,omitempty"`
}

type CaseUpdate struct {
	CaseType           *CaseType       `json:"case_type,omitempty"`
	PlaintiffNarrative *string         `json:"plaintiff_narrative,omitempty"`
	DefendantNarrative *string         `json:"defendant_narrative,omitempty"`
	ClaimedAmount      *json.Number    `json:"claimed_amount,omitempty"`
	DamagesBreakdown   json.RawMessage `json:"damages_breakdown,omitempty"`
	ArchetypeID        *string         `json:"archetype_id,omitempty"`
}

type Case struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"session_id"`
	Status             CaseStatus      `json:"status"`
	CaseType           *CaseType       `json:"case_type"`
	CaseTypeConfidence *float64        `json:"case_type_confidence"`
	PlaintiffNarrative *string         `json:"plaintiff_narrative"`
	DefendantNarrative *string         `json:"defendant_narrative"`
	ClaimedAmount      *json.Number    `json:"claimed_amount"`
	DamagesBreakdown   json.RawMessage `json:"damages_breakdown"`
	ArchetypeID        *string         `json:"archetype_id"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Parties            []Party         `json:"parties"`
	Evidence           []Evidence      `json:"evidence"`
	TimelineEvents     []TimelineEvent `json:"timeline_events"`
}

type PartyCreate struct {
	Role    PartyRole `json:"role"`
	Name    string    `json:"name"`
	Address *string   `json:"address,omitempty"`
	Phone   *string   `json:"phone,omitempty"`
}

type Party struct {
	ID      string    `json:"id"`
	CaseID  string    `json:"case_id"`
	Role    PartyRole `json:"role"`
	Name    string    `json:"name"`
	Address *string   `json:"address"`
	Phone   *string   `json:"phone"`
}

// EvidenceCreate is sent as a multipart form; File is optional.
type EvidenceCreate struct {
	SubmittedBy  PartyRole
	EvidenceType EvidenceType
	Title        string
	Description  string
	FileName     string
	File         []byte
}

type Evidence struct {
	ID               string       `json:"id"`
	CaseID           string       `json:"case_id"`
	SubmittedBy      PartyRole    `json:"submitted_by"`
	EvidenceType     EvidenceType `json:"evidence_type"`
	Title            string       `json:"title"`
	Description      *string      `json:"description"`
	FilePath         *string      `json:"file_path"`
	Score            *int         `json:"score"`
	ScoreExplanation *string      `json:"score_explanation"`
	CreatedAt        time.Time    `json:"created_at"`
}

type TimelineEventCreate struct {
	EventDate   time.Time  `json:"event_date"`
	Description string     `json:"description"`
	Source      *PartyRole `json:"source,omitempty"`
	Disputed    bool       `json:"disputed"`
}

type TimelineEvent struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	EventDate   time.Time  `json:"event_date"`
	Description string     `json:"description"`
	Source      *PartyRole `json:"source"`
	Disputed    bool       `json:"disputed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Hearing is the backend hearing resource. CompletedAt is nil while active.
type Hearing struct {
	ID          string              `json:"id"`
	CaseID      string              `json:"case_id"`
	ArchetypeID string              `json:"archetype_id"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at"`
	Messages    []sequencer.Message `json:"messages"`
}

func (h *Hearing) Concluded() bool { return h.CompletedAt != nil }

type HearingMessageCreate struct {
	Role    sequencer.Role `json:"role"`
	Content string         `json:"content"`
}

// HearingExchange is the HTTP fallback reply to a party message.
type HearingExchange struct {
	JudgeMessage     sequencer.Message `json:"judge_message"`
	HearingConcluded bool              `json:"hearing_concluded"`
}

type Judgment struct {
	ID               string            `json:"id"`
	CaseID           string            `json:"case_id"`
	ArchetypeID      string            `json:"archetype_id"`
	FindingsOfFact   []string          `json:"findings_of_fact"`
	ConclusionsOfLaw []json.RawMessage `json:"conclusions_of_law"`
	JudgmentText     string            `json:"judgment_text"`
	Rationale        string            `json:"rationale"`
	AwardedAmount    *json.Number      `json:"awarded_amount"`
	InFavorOf        PartyRole         `json:"in_favor_of"`
	EvidenceScores   json.RawMessage   `json:"evidence_scores"`
	ReasoningChain   json.RawMessage   `json:"reasoning_chain"`
	Advisory         json.RawMessage   `json:"advisory"`
	CreatedAt        time.Time         `json:"created_at"`
}

type LLMCall struct {
	Step         string  `json:"step"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMS    int     `json:"latency_ms"`
}

// JudgmentMetadata carries cost/latency totals across every pipeline call;
// Calls is paginated.
type JudgmentMetadata struct {
	TotalCostUSD      float64   `json:"total_cost_usd"`
	TotalLatencyMS    int64     `json:"total_latency_ms"`
	TotalInputTokens  int64     `json:"total_input_tokens"`
	TotalOutputTokens int64     `json:"total_output_tokens"`
	TotalCalls        int       `json:"total_calls"`
	Calls             []LLMCall `json:"calls"`
}

type ComparisonRunCreate struct {
	ArchetypeIDs []string `json:"archetype_ids"`
	ForceRefresh bool     `json:"force_refresh"`
}

type ComparisonResult struct {
	ArchetypeID      string            `json:"archetype_id"`
	FindingsOfFact   []string          `json:"findings_of_fact"`
	ConclusionsOfLaw []json.RawMessage `json:"conclusions_of_law"`
	JudgmentText     string            `json:"judgment_text"`
	Rationale        string            `json:"rationale"`
	AwardedAmount    *json.Number      `json:"awarded_amount"`
	InFavorOf        PartyRole         `json:"in_favor_of"`
	EvidenceScores   json.RawMessage   `json:"evidence_scores"`
	ReasoningChain   json.RawMessage   `json:"reasoning_chain"`
	Metadata         json.RawMessage   `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
}

type ComparisonRun struct {
	ID                 string             `json:"id"`
	CaseID             string             `json:"case_id"`
	ArchetypeIDs       []string           `json:"archetype_ids"`
	Reused             bool               `json:"reused"`
	CreatedAt          time.Time          `json:"created_at"`
	Results            []ComparisonResult `json:"results"`
	ComparisonInsights json.RawMessage    `json:"comparison_insights"`
}

type Archetype struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tone        string `json:"tone"`
	Icon        string `json:"icon"`
}

type CorpusSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type CorpusSearchResult struct {
	SourceType    string  `json:"source_type"`
	SourceTitle   string  `json:"source_title"`
	SectionNumber *string `json:"section_number"`
	Topic         *string `json:"topic"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
}

type CorpusStats struct {
	TotalChunks  int            `json:"total_chunks"`
	BySourceType map[string]int `json:"by_source_type"`
}

type AuthMe struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	IsAdmin   bool   `json:"is_admin"`
}

// Page bounds list endpoints that accept limit/offset.
type Page struct {
	Limit  int
	Offset int
}
