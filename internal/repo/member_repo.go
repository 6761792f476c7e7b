package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

// UpsertMember inserts the member if its ID is new. An existing row is left
// untouched, so the first display name seen wins.
func UpsertMember(ctx context.Context, db *gorm.DB, u domain.Uploader) error {
	now := time.Now().UTC()
	m := &domain.Member{ID: u.ID, Name: u.DisplayName, CreatedAt: now, UpdatedAt: now}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(m).Error
}

// GetMember fetches a member by ID, or ErrNotFound.
func GetMember(ctx context.Context, db *gorm.DB, id string) (*domain.Member, error) {
	var m domain.Member
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
