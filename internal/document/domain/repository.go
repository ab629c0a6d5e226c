package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListDocumentFilter struct {
	Kind      Kind
	Status    Status
	CompanyID string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, doc *Document) error
	InsertItems(ctx context.Context, db *gorm.DB, items []DocumentItem) error
	FindByID(ctx context.Context, db *gorm.DB, kind Kind, id snowflake.ID) (*Document, error)
	FindBySlug(ctx context.Context, db *gorm.DB, kind Kind, slug string) (*Document, error)
	FindBySource(ctx context.Context, db *gorm.DB, sourceID snowflake.ID) (*Document, error)
	ListItems(ctx context.Context, db *gorm.DB, documentID snowflake.ID) ([]DocumentItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListDocumentFilter, page pagination.Pagination) ([]*Document, error)
	CountCreatedBetween(ctx context.Context, db *gorm.DB, kind Kind, start, end time.Time) (int64, error)
	Update(ctx context.Context, db *gorm.DB, doc *Document) error
	ReplaceItems(ctx context.Context, db *gorm.DB, documentID snowflake.ID, items []DocumentItem) error
	Delete(ctx context.Context, db *gorm.DB, kind Kind, id snowflake.ID) (bool, error)
}
