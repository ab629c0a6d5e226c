package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
)

type LineItemInput struct {
	SectionTitle string          `json:"section_title"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type CreateDocumentRequest struct {
	Kind          Kind            `json:"-"`
	CompanyID     string          `json:"company_id"`
	ClientID      string          `json:"client_id"`
	Currency      string          `json:"currency"`
	BTWPercentage decimal.Decimal `json:"btw_percentage"`
	Notes         string          `json:"notes"`
	IssueDate     *time.Time      `json:"issue_date"`
	DueDate       *time.Time      `json:"due_date"`
	Items         []LineItemInput `json:"items"`
}

type UpdateDocumentRequest struct {
	Kind          Kind             `json:"-"`
	ID            string           `json:"-"`
	BTWPercentage *decimal.Decimal `json:"btw_percentage"`
	Notes         *string          `json:"notes"`
	DueDate       *time.Time       `json:"due_date"`
	Items         []LineItemInput  `json:"items"`
}

type UpdateStatusRequest struct {
	Kind   Kind   `json:"-"`
	ID     string `json:"-"`
	Status Status `json:"status"`
}

type ListDocumentRequest struct {
	Kind      Kind
	Status    Status
	CompanyID string
	pagination.Pagination
}

type ListDocumentResponse struct {
	pagination.PageInfo
	Documents []Document `json:"documents"`
}

type Service interface {
	Create(context.Context, CreateDocumentRequest) (Document, error)
	Get(ctx context.Context, kind Kind, idOrSlug string) (Document, error)
	List(context.Context, ListDocumentRequest) (ListDocumentResponse, error)
	Update(context.Context, UpdateDocumentRequest) (Document, error)
	UpdateStatus(context.Context, UpdateStatusRequest) (Document, error)
	Delete(ctx context.Context, kind Kind, id string) error
	ConvertToFactuur(ctx context.Context, offerteID string) (Document, error)
}

var (
	ErrInvalidKind       = errors.New("invalid_kind")
	ErrInvalidCompany    = errors.New("invalid_company")
	ErrInvalidClient     = errors.New("invalid_client")
	ErrInvalidItems      = errors.New("invalid_items")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidUnitPrice  = errors.New("invalid_unit_price")
	ErrInvalidBTW        = errors.New("invalid_btw_percentage")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("not_found")
	ErrNotAccepted       = errors.New("offerte_not_accepted")
	ErrAlreadyConverted  = errors.New("offerte_already_converted")
)

// IsValidationError reports whether err is a caller input problem.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidKind, ErrInvalidCompany, ErrInvalidClient, ErrInvalidItems,
		ErrInvalidQuantity, ErrInvalidUnitPrice, ErrInvalidBTW, ErrInvalidStatus, ErrInvalidID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
