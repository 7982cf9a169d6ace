package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// LifecycleStatus is the system-owned, coarse phase of a case's document
// exchange. Only the engine packages may set it.
type LifecycleStatus string

const (
	LifecycleDraft            LifecycleStatus = "draft"
	LifecycleDocumentSent     LifecycleStatus = "document_sent"
	LifecycleAwaitingResponse LifecycleStatus = "awaiting_response"
	LifecycleResponseReceived LifecycleStatus = "response_received"
	LifecycleDeadlineMissed   LifecycleStatus = "deadline_missed"
	LifecycleClosed           LifecycleStatus = "closed"
)

// ChatPhase is the fine-grained phase of the fact-gathering conversation.
type ChatPhase string

const (
	PhaseGathering ChatPhase = "gathering"
	PhaseWaiting   ChatPhase = "waiting"
	PhaseReady     ChatPhase = "ready"
	PhaseLocked    ChatPhase = "locked"
)

// AIMode is the momentary permission state governing whether and how the
// assistant may respond on a given turn.
type AIMode string

const (
	ModeInfoGathering    AIMode = "info_gathering"
	ModeGuidance         AIMode = "guidance"
	ModeWaitingForUpload AIMode = "waiting_for_upload"
	ModeProcessing       AIMode = "processing"
	ModeLocked           AIMode = "locked"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleAI   MessageRole = "ai"
)

// Complexity is the derived tier used to choose the plan shape.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// PlanType is the decided shape of a case's document plan.
type PlanType string

const (
	PlanSimpleLetter PlanType = "simple_letter"
	PlanBundle       PlanType = "bundle"
)

// DocumentType identifies a generated document within a plan.
type DocumentType string

const (
	DocLetterBeforeAction DocumentType = "letter_before_action"
	DocScheduleOfLoss     DocumentType = "schedule_of_loss"
	DocEvidenceIndex      DocumentType = "evidence_index"
	DocWitnessStatement   DocumentType = "witness_statement"
	DocFollowUpLetter     DocumentType = "follow_up_letter"
)

// DocStatus is the generation state of a document.
type DocStatus string

const (
	DocPending    DocStatus = "pending"
	DocGenerating DocStatus = "generating"
	DocCompleted  DocStatus = "completed"
	DocFailed     DocStatus = "failed"
)

// TimelineType classifies audit-log entries.
type TimelineType string

const (
	EventDocumentCompleted TimelineType = "document_completed"
	EventDocumentSent      TimelineType = "document_sent"
	EventDeadlineSet       TimelineType = "deadline_set"
	EventDeadlineMissed    TimelineType = "deadline_missed"
	EventFollowUpGenerated TimelineType = "follow_up_generated"
	EventResponseReceived  TimelineType = "response_received"
	EventCaseClosed        TimelineType = "case_closed"
)

// PayStatus defines lifecycle states for a payment.
type PayStatus string

const (
	PayInitiated PayStatus = "initiated"
	PayPaid      PayStatus = "paid"
	PayFailed    PayStatus = "failed"
)

/* =============================== Entities =============================== */

// User is an account holder. Every case belongs to exactly one user.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Name         string
	CreatedAt    time.Time
}

// Case is a single dispute tracked end-to-end from intake to closure.
// LifecycleStatus, ChatPhase and AIMode are system-owned: handlers never
// write them directly, only the engine packages do.
type Case struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	Title           string          `gorm:"not null"`
	DisputeType     *string         `gorm:"type:varchar(40)"`
	LifecycleStatus LifecycleStatus `gorm:"type:varchar(30);default:'draft'"`
	ChatPhase       ChatPhase       `gorm:"type:varchar(20);default:'gathering'"`
	AIMode          AIMode          `gorm:"type:varchar(30);default:'info_gathering'"`
	WaitingUntil    *time.Time
	LastAIMessageAt *time.Time
	Restricted      bool `gorm:"default:false"`
	StrategyLocked  bool `gorm:"default:false"`
	Paid            bool `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Relations
	Facts    *CaseFacts     `gorm:"foreignKey:CaseID"`
	Evidence []EvidenceItem `gorm:"foreignKey:CaseID"`
	Messages []ChatMessage  `gorm:"foreignKey:CaseID"`
	Plan     *DocumentPlan  `gorm:"foreignKey:CaseID"`
}

// CaseFacts is the extracted strategy for a case: what the dispute is about,
// what happened, and what the user wants. Mutated only by fact extraction.
type CaseFacts struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	DisputeType       *string   `gorm:"type:varchar(40)"`
	KeyFacts          []string  `gorm:"serializer:json;type:jsonb"`
	EvidenceMentioned []string  `gorm:"serializer:json;type:jsonb"`
	DesiredOutcome    string    `gorm:"type:text"`
	UpdatedAt         time.Time
}

// EvidenceItem is metadata for one uploaded piece of evidence. Created on
// upload, never mutated by the engine. Index is monotonic per case.
type EvidenceItem struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Title        string    `gorm:"not null"`
	Description  *string
	FileType     string `gorm:"not null"`
	Key          string `gorm:"not null"` // storage object key
	Size         int    `gorm:"not null"`
	EvidenceDate *time.Time
	Index        int `gorm:"column:item_index;not null"`
	CreatedAt    time.Time

	Case Case `gorm:"foreignKey:CaseID;references:ID"`
}

// ChatMessage is one turn of the fact-gathering conversation. Append-only.
type ChatMessage struct {
	ID        uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID    uuid.UUID   `gorm:"type:uuid;not null;index"`
	Role      MessageRole `gorm:"type:varchar(10);not null"`
	Content   string      `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// DocumentPlan is the decided document shape for a case. The unique index on
// CaseID is what makes plan creation idempotent under concurrent requests.
type DocumentPlan struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	Complexity   Complexity `gorm:"type:varchar(20);not null"`
	DocumentType PlanType   `gorm:"type:varchar(20);not null"`
	CreatedAt    time.Time

	Documents []GeneratedDocument `gorm:"foreignKey:PlanID"`
}

// GeneratedDocument is one document within a plan. At most one follow-up row
// exists per active waiting cycle.
type GeneratedDocument struct {
	ID         uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PlanID     uuid.UUID    `gorm:"type:uuid;not null;index"`
	Type       DocumentType `gorm:"type:varchar(40);not null"`
	Order      int          `gorm:"column:sort_order;not null"`
	Required   bool         `gorm:"default:true"`
	IsFollowUp bool         `gorm:"default:false"`
	Status     DocStatus    `gorm:"type:varchar(20);default:'pending'"`
	Content    string       `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TimelineEvent is an immutable audit record of a lifecycle-significant
// occurrence on a case. Every lifecycle transition writes one.
type TimelineEvent struct {
	ID                uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID            uuid.UUID    `gorm:"type:uuid;not null;index"`
	Type              TimelineType `gorm:"type:varchar(40);not null"`
	Description       string       `gorm:"type:text"`
	RelatedDocumentID *uuid.UUID   `gorm:"type:uuid"`
	OccurredAt        time.Time    `gorm:"not null"`
}

// Payment represents a payment attempt that unlocks document generation for
// a case.
type Payment struct {
	ID                  uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_pay_case"`
	UserID              uuid.UUID `gorm:"type:uuid;not null"`
	StripeSessionID     *string   `gorm:"uniqueIndex:ux_pay_session_filled"`
	StripePaymentIntent *string   `gorm:"uniqueIndex:ux_pay_intent_filled"`
	AmountCents         int       `gorm:"not null"` // stored in cents to avoid float issues
	Status              PayStatus `gorm:"type:varchar(20);default:'initiated'"`
	CreatedAt           time.Time `gorm:"not null;default:now()"`
	UpdatedAt           time.Time `gorm:"not null;default:now()"`
}
