package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/internal/numbering"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Allocator *numbering.Allocator
	Counter   *numbering.CounterStore
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	repo      domain.Repository
	allocator *numbering.Allocator
	counter   *numbering.CounterStore
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("document.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		allocator: p.Allocator,
		counter:   p.Counter,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateDocumentRequest) (domain.Document, error) {
	return s.create(ctx, req, nil)
}

func (s *Service) create(ctx context.Context, req domain.CreateDocumentRequest, sourceID *snowflake.ID) (domain.Document, error) {
	if err := validateCreate(req); err != nil {
		return domain.Document{}, err
	}

	now := s.allocator.Now()
	totals := domain.ComputeTotals(req.Items, req.BTWPercentage)
	prefix := s.allocator.Prefix(string(req.Kind))

	todayCount, err := s.todayCount(ctx, req.Kind, prefix, now)
	if err != nil {
		return domain.Document{}, err
	}

	issueDate := now
	if req.IssueDate != nil {
		issueDate = *req.IssueDate
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "EUR"
	}

	var created domain.Document
	candidate, err := s.allocator.Retry(ctx, numbering.RetryParams{
		Kind:       string(req.Kind),
		Prefix:     prefix,
		TodayCount: todayCount,
	}, func(ctx context.Context, candidate numbering.Candidate) error {
		doc := domain.Document{
			ID:               s.genID.Generate(),
			Kind:             req.Kind,
			Number:           candidate.String(),
			Slug:             candidate.Slug(),
			Status:           domain.StatusDraft,
			CompanyID:        strings.TrimSpace(req.CompanyID),
			ClientID:         strings.TrimSpace(req.ClientID),
			Currency:         currency,
			BTWPercentage:    req.BTWPercentage,
			Subtotal:         totals.Subtotal,
			BTWAmount:        totals.BTWAmount,
			Total:            totals.Total,
			Notes:            strings.TrimSpace(req.Notes),
			IssueDate:        issueDate.UTC(),
			DueDate:          req.DueDate,
			SourceDocumentID: sourceID,
			CreatedAt:        now.UTC(),
			UpdatedAt:        now.UTC(),
		}
		doc.Items = s.buildItems(doc.ID, req.Items, now.UTC())

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.Insert(ctx, tx, &doc); err != nil {
				return err
			}
			return s.repo.InsertItems(ctx, tx, doc.Items)
		})
		if err != nil {
			if sourceID != nil && numbering.IsUniqueViolation(err) {
				return s.convertedConflict(ctx, *sourceID, err)
			}
			return err
		}
		created = doc
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}

	s.log.Info("document created",
		zap.String("kind", string(req.Kind)),
		zap.String("number", candidate.String()),
		zap.String("company_id", created.CompanyID),
	)
	return created, nil
}

// todayCount is the basis for the next sequence. With the counter strategy
// the atomic per-day counter reserves a value; the count query still bounds
// it from below so rows created before the counter existed are skipped.
func (s *Service) todayCount(ctx context.Context, kind domain.Kind, prefix string, now time.Time) (int, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := s.repo.CountCreatedBetween(ctx, s.db, kind, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("count today's documents: %w", err)
	}
	if s.allocator.Strategy() != config.NumberingStrategyCounter || s.counter == nil {
		return int(count), nil
	}

	reserved, err := s.counter.Next(ctx, prefix, now.Format(numbering.DatePartLayout), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("reserve document sequence: %w", err)
	}
	if reserved-1 > count {
		return int(reserved - 1), nil
	}
	return int(count), nil
}

func (s *Service) buildItems(documentID snowflake.ID, inputs []domain.LineItemInput, now time.Time) []domain.DocumentItem {
	items := make([]domain.DocumentItem, 0, len(inputs))
	for i, input := range inputs {
		items = append(items, domain.DocumentItem{
			ID:           s.genID.Generate(),
			DocumentID:   documentID,
			Position:     i + 1,
			SectionTitle: strings.TrimSpace(input.SectionTitle),
			Description:  strings.TrimSpace(input.Description),
			Quantity:     input.Quantity,
			UnitPrice:    input.UnitPrice,
			Amount:       input.Amount().Round(2),
			CreatedAt:    now,
		})
	}
	return items
}

func (s *Service) Get(ctx context.Context, kind domain.Kind, idOrSlug string) (domain.Document, error) {
	if !kind.Valid() {
		return domain.Document{}, domain.ErrInvalidKind
	}
	doc, err := s.find(ctx, s.db, kind, idOrSlug)
	if err != nil {
		return domain.Document{}, err
	}
	items, err := s.repo.ListItems(ctx, s.db, doc.ID)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Items = items
	return *doc, nil
}

func (s *Service) find(ctx context.Context, db *gorm.DB, kind domain.Kind, idOrSlug string) (*domain.Document, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return nil, domain.ErrInvalidID
	}

	var (
		doc *domain.Document
		err error
	)
	if id, parseErr := strconv.ParseInt(idOrSlug, 10, 64); parseErr == nil {
		doc, err = s.repo.FindByID(ctx, db, kind, snowflake.ID(id))
	} else {
		doc, err = s.repo.FindBySlug(ctx, db, kind, strings.ToLower(idOrSlug))
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, req domain.ListDocumentRequest) (domain.ListDocumentResponse, error) {
	if !req.Kind.Valid() {
		return domain.ListDocumentResponse{}, domain.ErrInvalidKind
	}
	if req.Status != "" && !statusBelongsTo(req.Kind, req.Status) {
		return domain.ListDocumentResponse{}, domain.ErrInvalidStatus
	}

	docs, err := s.repo.List(ctx, s.db, domain.ListDocumentFilter{
		Kind:      req.Kind,
		Status:    req.Status,
		CompanyID: strings.TrimSpace(req.CompanyID),
	}, req.Pagination)
	if err != nil {
		return domain.ListDocumentResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(docs, req.Pagination.Limit(), func(d *domain.Document) pagination.Cursor {
		return pagination.Cursor{
			ID:        d.ID.String(),
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	out := make([]domain.Document, 0, len(page))
	for _, doc := range page {
		out = append(out, *doc)
	}
	return domain.ListDocumentResponse{PageInfo: info, Documents: out}, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateDocumentRequest) (domain.Document, error) {
	if !req.Kind.Valid() {
		return domain.Document{}, domain.ErrInvalidKind
	}
	if req.Items != nil {
		if err := validateItems(req.Items); err != nil {
			return domain.Document{}, err
		}
	}
	if req.BTWPercentage != nil {
		if err := validateBTW(*req.BTWPercentage); err != nil {
			return domain.Document{}, err
		}
	}

	var updated domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.find(ctx, tx, req.Kind, req.ID)
		if err != nil {
			return err
		}
		if !domain.Editable(doc.Status) {
			return domain.ErrInvalidTransition
		}

		items, err := s.repo.ListItems(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		now := s.allocator.Now().UTC()

		if req.Items != nil {
			items = s.buildItems(doc.ID, req.Items, now)
			if err := s.repo.ReplaceItems(ctx, tx, doc.ID, items); err != nil {
				return err
			}
		}
		if req.BTWPercentage != nil {
			doc.BTWPercentage = *req.BTWPercentage
		}
		if req.Notes != nil {
			doc.Notes = strings.TrimSpace(*req.Notes)
		}
		if req.DueDate != nil {
			doc.DueDate = req.DueDate
		}

		totals := domain.ComputeTotals(itemInputs(items), doc.BTWPercentage)
		doc.Subtotal = totals.Subtotal
		doc.BTWAmount = totals.BTWAmount
		doc.Total = totals.Total
		doc.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, doc); err != nil {
			return err
		}
		doc.Items = items
		updated = *doc
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	return updated, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (domain.Document, error) {
	if !req.Kind.Valid() {
		return domain.Document{}, domain.ErrInvalidKind
	}
	if !statusBelongsTo(req.Kind, req.Status) {
		return domain.Document{}, domain.ErrInvalidStatus
	}

	var updated domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.find(ctx, tx, req.Kind, req.ID)
		if err != nil {
			return err
		}
		if doc.Status == req.Status {
			updated = *doc
			return nil
		}
		if !domain.CanTransition(doc.Kind, doc.Status, req.Status) {
			return domain.ErrInvalidTransition
		}

		now := s.allocator.Now().UTC()
		switch req.Status {
		case domain.StatusSent:
			doc.SentAt = &now
		case domain.StatusAccepted:
			doc.AcceptedAt = &now
		case domain.StatusPaid:
			doc.PaidAt = &now
		}
		previous := doc.Status
		doc.Status = req.Status
		doc.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, doc); err != nil {
			return err
		}
		s.log.Info("document status changed",
			zap.String("number", doc.Number),
			zap.String("from", string(previous)),
			zap.String("to", string(req.Status)),
		)
		updated = *doc
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, kind domain.Kind, id string) error {
	if !kind.Valid() {
		return domain.ErrInvalidKind
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.find(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		deleted, err := s.repo.Delete(ctx, tx, kind, doc.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}
		s.log.Info("document deleted", zap.String("number", doc.Number))
		return nil
	})
}

// ConvertToFactuur issues a factuur from an accepted offerte, copying its
// lines and linking back to it.
func (s *Service) ConvertToFactuur(ctx context.Context, offerteID string) (domain.Document, error) {
	offerte, err := s.Get(ctx, domain.KindOfferte, offerteID)
	if err != nil {
		return domain.Document{}, err
	}
	if offerte.Status != domain.StatusAccepted {
		return domain.Document{}, domain.ErrNotAccepted
	}
	existing, err := s.repo.FindBySource(ctx, s.db, offerte.ID)
	if err != nil {
		return domain.Document{}, err
	}
	if existing != nil {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrAlreadyConverted, existing.Number)
	}

	sourceID := offerte.ID
	return s.create(ctx, domain.CreateDocumentRequest{
		Kind:          domain.KindFactuur,
		CompanyID:     offerte.CompanyID,
		ClientID:      offerte.ClientID,
		Currency:      offerte.Currency,
		BTWPercentage: offerte.BTWPercentage,
		Notes:         offerte.Notes,
		Items:         itemInputs(offerte.Items),
	}, &sourceID)
}

// convertedConflict tells a lost convert race apart from a number
// collision. The winner's factuur is visible once its transaction commits.
func (s *Service) convertedConflict(ctx context.Context, sourceID snowflake.ID, insertErr error) error {
	existing, err := s.repo.FindBySource(ctx, s.db, sourceID)
	if err != nil || existing == nil {
		return insertErr
	}
	return fmt.Errorf("%w: %s", domain.ErrAlreadyConverted, existing.Number)
}

func itemInputs(items []domain.DocumentItem) []domain.LineItemInput {
	out := make([]domain.LineItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, domain.LineItemInput{
			SectionTitle: item.SectionTitle,
			Description:  item.Description,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
		})
	}
	return out
}

func validateCreate(req domain.CreateDocumentRequest) error {
	if !req.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		return domain.ErrInvalidCompany
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return domain.ErrInvalidClient
	}
	if err := validateBTW(req.BTWPercentage); err != nil {
		return err
	}
	return validateItems(req.Items)
}

func validateItems(items []domain.LineItemInput) error {
	if len(items) == 0 {
		return domain.ErrInvalidItems
	}
	for _, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return domain.ErrInvalidItems
		}
		if !item.Quantity.IsPositive() {
			return domain.ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return domain.ErrInvalidUnitPrice
		}
	}
	return nil
}

var maxBTW = decimal.NewFromInt(100)

func validateBTW(btw decimal.Decimal) error {
	if btw.IsNegative() || btw.GreaterThan(maxBTW) {
		return domain.ErrInvalidBTW
	}
	return nil
}

func statusBelongsTo(kind domain.Kind, status domain.Status) bool {
	for _, candidate := range domain.Statuses(kind) {
		if candidate == status {
			return true
		}
	}
	return false
}
