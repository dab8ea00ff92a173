package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, regie *Regie) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Regie, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Regie, error)
	MaxShortID(ctx context.Context, db *gorm.DB) (int, error)
	List(ctx context.Context, db *gorm.DB) ([]*Regie, error)

	// IncrementCounter bumps the counter of the scope by one, creating it on
	// first use, and returns the new value.
	IncrementCounter(ctx context.Context, db *gorm.DB, id snowflake.ID, regieID snowflake.ID, kind CounterKind, name string, now time.Time) (int64, error)
	ListCounters(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*Counter, error)
}
