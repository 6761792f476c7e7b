package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

func TestGetIdempotency_BlankKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	rec, err := GetIdempotency(context.Background(), db, domain.ScopeAPI, "   ", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:        "expired",
		Scope:     domain.ScopeInteraction,
		Key:       "k1",
		Status:    200,
		Body:      []byte("{}"),
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, domain.ScopeInteraction, "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	rec, err = GetIdempotency(context.Background(), db, domain.ScopeAPI, "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("scope must be part of the key, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_SuccessDuplicateAndReplaceExpired(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, domain.ScopeInteraction, "i-1", 200, []byte(`{"type":4}`), ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.Scope != domain.ScopeInteraction || rec.Key != "i-1" || rec.Status != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, domain.ScopeInteraction, "i-1", time.Now().UTC())
	if err != nil || string(got.Body) != `{"type":4}` {
		t.Fatalf("readback: %v %+v", err, got)
	}

	if _, err := CreateIdempotency(ctx, db, domain.ScopeInteraction, "i-1", 200, []byte("{}"), ttl); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// An expired row does not block a fresh one.
	if _, err := CreateIdempotency(ctx, db, domain.ScopeAPI, "k-old", 200, []byte("{}"), -time.Minute); err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, domain.ScopeAPI, "k-old", 201, []byte("{}"), ttl); err != nil {
		t.Fatalf("expected expired row to be replaced, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	_, err := CreateIdempotency(context.Background(), db, domain.ScopeAPI, "k", 200, nil, time.Minute)
	if err == nil || err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got %v", err)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	_, _ = CreateIdempotency(ctx, db, domain.ScopeAPI, "old", 200, []byte("{}"), -time.Minute)
	_, _ = CreateIdempotency(ctx, db, domain.ScopeAPI, "new", 200, []byte("{}"), time.Hour)

	n, err := PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged row, got %d (%v)", n, err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) || IsUniqueViolation(errors.New("boom")) {
		t.Fatal("unrelated errors are not unique violations")
	}
	if !IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: video_archives.url (2067)")) {
		t.Fatal("sqlite text should be detected")
	}
	if !IsUniqueViolation(ErrDuplicate) {
		t.Fatal("ErrDuplicate should be detected")
	}
}
