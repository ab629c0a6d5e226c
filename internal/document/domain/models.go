package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOfferte Kind = "offerte"
	KindFactuur Kind = "factuur"
)

func (k Kind) Valid() bool {
	return k == KindOfferte || k == KindFactuur
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Kind]map[Status][]Status{
	KindOfferte: {
		StatusDraft:   {StatusSent},
		StatusSent:    {StatusAccepted, StatusRejected, StatusExpired},
		StatusExpired: {StatusSent},
	},
	KindFactuur: {
		StatusDraft:   {StatusSent, StatusCancelled},
		StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
		StatusOverdue: {StatusPaid, StatusCancelled},
	},
}

// CanTransition reports whether a document of kind may move from one status to another.
func CanTransition(kind Kind, from, to Status) bool {
	for _, next := range transitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Document is an offerte or factuur. Number and Slug never change after
// the first successful insert.
type Document struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	Kind             Kind            `gorm:"type:text;not null;index" json:"kind"`
	Number           string          `gorm:"type:text;not null;uniqueIndex" json:"number"`
	Slug             string          `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Status           Status          `gorm:"type:text;not null" json:"status"`
	CompanyID        string          `gorm:"type:text;not null;index" json:"company_id"`
	ClientID         string          `gorm:"type:text;not null" json:"client_id"`
	Currency         string          `gorm:"type:text;not null;default:'EUR'" json:"currency"`
	BTWPercentage    decimal.Decimal `gorm:"column:btw_percentage;type:numeric(5,2);not null" json:"btw_percentage"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	BTWAmount        decimal.Decimal `gorm:"column:btw_amount;type:numeric(14,2);not null" json:"btw_amount"`
	Total            decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	IssueDate        time.Time       `gorm:"not null" json:"issue_date"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	SourceDocumentID *snowflake.ID   `gorm:"uniqueIndex:ux_documents_source_document_id" json:"source_document_id,omitempty"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`
	AcceptedAt       *time.Time      `json:"accepted_at,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`

	Items []DocumentItem `gorm:"-" json:"items"`
}

func (Document) TableName() string { return "documents" }

// DocumentItem is one ordered line on a document.
type DocumentItem struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	DocumentID   snowflake.ID    `gorm:"not null;index" json:"document_id"`
	Position     int             `gorm:"not null" json:"position"`
	SectionTitle string          `gorm:"type:text" json:"section_title,omitempty"`
	Description  string          `gorm:"type:text;not null" json:"description"`
	Quantity     decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price"`
	Amount       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (DocumentItem) TableName() string { return "document_items" }

// Statuses lists the statuses valid for a kind.
func Statuses(kind Kind) []Status {
	switch kind {
	case KindOfferte:
		return []Status{StatusDraft, StatusSent, StatusAccepted, StatusRejected, StatusExpired}
	case KindFactuur:
		return []Status{StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled}
	default:
		return nil
	}
}

// Editable reports whether lines and totals may still change.
func Editable(status Status) bool {
	switch status {
	case StatusDraft, StatusSent, StatusOverdue, StatusExpired:
		return true
	default:
		return false
	}
}
