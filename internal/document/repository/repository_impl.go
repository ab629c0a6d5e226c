package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, doc *domain.Document) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO documents (
			id, kind, number, slug, status, company_id, client_id, currency,
			btw_percentage, subtotal, btw_amount, total, notes, issue_date, due_date,
			source_document_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.Kind,
		doc.Number,
		doc.Slug,
		doc.Status,
		doc.CompanyID,
		doc.ClientID,
		doc.Currency,
		doc.BTWPercentage,
		doc.Subtotal,
		doc.BTWAmount,
		doc.Total,
		doc.Notes,
		doc.IssueDate,
		doc.DueDate,
		doc.SourceDocumentID,
		doc.CreatedAt,
		doc.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.DocumentItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO document_items (
				id, document_id, position, section_title, description,
				quantity, unit_price, amount, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.DocumentID,
			item.Position,
			item.SectionTitle,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Amount,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

const documentColumns = `id, kind, number, slug, status, company_id, client_id, currency,
	btw_percentage, subtotal, btw_amount, total, notes, issue_date, due_date,
	source_document_id, sent_at, accepted_at, paid_at, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, kind domain.Kind, id snowflake.ID) (*domain.Document, error) {
	return r.findOne(ctx, db, `SELECT `+documentColumns+` FROM documents WHERE kind = ? AND id = ?`, kind, id)
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, kind domain.Kind, slug string) (*domain.Document, error) {
	return r.findOne(ctx, db, `SELECT `+documentColumns+` FROM documents WHERE kind = ? AND slug = ?`, kind, slug)
}

func (r *repo) FindBySource(ctx context.Context, db *gorm.DB, sourceID snowflake.ID) (*domain.Document, error) {
	return r.findOne(ctx, db, `SELECT `+documentColumns+` FROM documents WHERE source_document_id = ? LIMIT 1`, sourceID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Document, error) {
	var doc domain.Document
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&doc).Error; err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, documentID snowflake.ID) ([]domain.DocumentItem, error) {
	var items []domain.DocumentItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, document_id, position, section_title, description, quantity, unit_price, amount, created_at
		 FROM document_items WHERE document_id = ? ORDER BY position ASC`,
		documentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListDocumentFilter, page pagination.Pagination) ([]*domain.Document, error) {
	var docs []*domain.Document
	stmt := db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("kind = ?", filter.Kind)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CompanyID != "" {
		stmt = stmt.Where("company_id = ?", filter.CompanyID)
	}
	stmt, err := page.Apply(stmt)
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// CountCreatedBetween counts documents of a kind across all companies in
// [start, end).
func (r *repo) CountCreatedBetween(ctx context.Context, db *gorm.DB, kind domain.Kind, start, end time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM documents WHERE kind = ? AND created_at >= ? AND created_at < ?`,
		kind,
		start.UTC(),
		end.UTC(),
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, doc *domain.Document) error {
	return db.WithContext(ctx).Exec(
		`UPDATE documents SET
			status = ?, btw_percentage = ?, subtotal = ?, btw_amount = ?, total = ?,
			notes = ?, due_date = ?, sent_at = ?, accepted_at = ?, paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Status,
		doc.BTWPercentage,
		doc.Subtotal,
		doc.BTWAmount,
		doc.Total,
		doc.Notes,
		doc.DueDate,
		doc.SentAt,
		doc.AcceptedAt,
		doc.PaidAt,
		doc.UpdatedAt,
		doc.ID,
	).Error
}

func (r *repo) ReplaceItems(ctx context.Context, db *gorm.DB, documentID snowflake.ID, items []domain.DocumentItem) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM document_items WHERE document_id = ?`, documentID).Error; err != nil {
		return err
	}
	return r.InsertItems(ctx, db, items)
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, kind domain.Kind, id snowflake.ID) (bool, error) {
	if err := db.WithContext(ctx).Exec(`DELETE FROM document_items WHERE document_id = ?`, id).Error; err != nil {
		return false, err
	}
	result := db.WithContext(ctx).Exec(`DELETE FROM documents WHERE kind = ? AND id = ?`, kind, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
