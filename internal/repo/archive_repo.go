// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the video and
// challenge archive models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Lookups by URL return ErrNotFound when no row matches.
//   - Inserts that hit the unique URL index return ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// FindVideoByURL returns the video archive stored under the normalized url.
func FindVideoByURL(ctx context.Context, db *gorm.DB, url string) (*domain.VideoArchive, error) {
	var v domain.VideoArchive
	if err := db.WithContext(ctx).Where("url = ?", url).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// FindChallengeByURL returns the link challenge stored under the normalized url.
func FindChallengeByURL(ctx context.Context, db *gorm.DB, url string) (*domain.ChallengeArchive, error) {
	var c domain.ChallengeArchive
	if err := db.WithContext(ctx).Where("url = ?", url).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateVideoArchive inserts v. A unique-index conflict on url yields ErrDuplicate.
func CreateVideoArchive(ctx context.Context, db *gorm.DB, v *domain.VideoArchive) error {
	return mapInsertErr(db.WithContext(ctx).Omit("Member").Create(v).Error)
}

// CreateChallengeArchive inserts c. A unique-index conflict on url yields ErrDuplicate.
func CreateChallengeArchive(ctx context.Context, db *gorm.DB, c *domain.ChallengeArchive) error {
	return mapInsertErr(db.WithContext(ctx).Omit("Member").Create(c).Error)
}

// CountVideos returns the number of video archives.
func CountVideos(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.VideoArchive{}).Count(&total).Error
	return total, err
}

// ListVideosPage returns video archives newest first.
func ListVideosPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.VideoArchive, error) {
	var out []domain.VideoArchive
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountChallenges returns the number of challenge archives.
func CountChallenges(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.ChallengeArchive{}).Count(&total).Error
	return total, err
}

// ListChallengesPage returns challenge archives newest first.
func ListChallengesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ChallengeArchive, error) {
	var out []domain.ChallengeArchive
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// StoredURL is one (id, url) pair read during URL maintenance.
type StoredURL struct {
	ID  string
	URL string
}

// ScanVideoURLs returns up to limit video (id, url) pairs with id > after,
// ordered by id. It is the keyset cursor used by URL maintenance.
func ScanVideoURLs(ctx context.Context, db *gorm.DB, after string, limit int) ([]StoredURL, error) {
	var out []StoredURL
	err := db.WithContext(ctx).
		Model(&domain.VideoArchive{}).
		Select("id, url").
		Where("id > ?", after).
		Order("id asc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// ScanChallengeURLs is ScanVideoURLs for link challenges.
func ScanChallengeURLs(ctx context.Context, db *gorm.DB, after string, limit int) ([]StoredURL, error) {
	var out []StoredURL
	err := db.WithContext(ctx).
		Model(&domain.ChallengeArchive{}).
		Select("id, url").
		Where("id > ? AND url IS NOT NULL", after).
		Order("id asc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// UpdateVideoURL rewrites the url of one video archive.
func UpdateVideoURL(ctx context.Context, db *gorm.DB, id, url string) error {
	return updateURL(ctx, db, &domain.VideoArchive{}, id, url)
}

// UpdateChallengeURL rewrites the url of one challenge archive.
func UpdateChallengeURL(ctx context.Context, db *gorm.DB, id, url string) error {
	return updateURL(ctx, db, &domain.ChallengeArchive{}, id, url)
}

func updateURL(ctx context.Context, db *gorm.DB, model any, id, url string) error {
	res := db.WithContext(ctx).Model(model).Where("id = ?", id).Update("url", url)
	if res.Error != nil {
		return mapInsertErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}
