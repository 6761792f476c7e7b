// Package services – ArchiveService
//
// ArchiveService composes URL normalization, duplicate detection, metadata
// resolution and persistence into one use case per archive kind. Every
// failure leaves this package as a *domain.Error.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// submission increments archive_submissions_total{kind,outcome}.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/urlnorm"
)

// Submission kinds, used as metric labels.
const (
	KindVideo         = "video"
	KindChallengeLink = "challenge_link"
	KindChallengeText = "challenge_text"
)

var submissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "archive_submissions_total",
		Help: "Archive submissions by kind and outcome (ok or error code).",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(submissions)
}

// Resolver fetches metadata for a URL. *ogp.Selector satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (domain.OGP, error)
}

// VideoSubmission asks to archive a video link. Title overrides the resolved
// title when non-blank; Description overrides when non-nil.
type VideoSubmission struct {
	URL         string
	Title       *string
	Description *string
	Uploader    domain.Uploader
}

// ChallengeLinkSubmission asks to archive a challenge pointing at a URL.
type ChallengeLinkSubmission struct {
	URL         string
	Title       string
	Description string
	Uploader    domain.Uploader
}

// ChallengeTextSubmission asks to archive a free-text challenge.
type ChallengeTextSubmission struct {
	Title       string
	Description string
	Uploader    domain.Uploader
}

// ArchiveService coordinates archive creation and listing.
type ArchiveService struct {
	DB       *gorm.DB
	Resolver Resolver
	// NewID mints archive ids; defaults to UUIDv7 (time ordered).
	NewID func() string
}

// NewArchiveService wires an ArchiveService with the default id generator.
func NewArchiveService(db *gorm.DB, r Resolver) *ArchiveService {
	return &ArchiveService{DB: db, Resolver: r}
}

func (s *ArchiveService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

var tracer = otel.Tracer("services/ArchiveService")

// ArchiveVideo normalizes the URL, rejects duplicates before any metadata
// call, resolves metadata, applies caller overrides and persists the member
// and the archive in one transaction.
func (s *ArchiveService) ArchiveVideo(ctx context.Context, sub VideoSubmission) (arc *domain.VideoArchive, err error) {
	ctx, span := tracer.Start(ctx, "ArchiveVideo",
		trace.WithAttributes(attribute.String("user.id", sub.Uploader.ID)),
	)
	defer func() { finish(span, KindVideo, err) }()

	if strings.TrimSpace(sub.URL) == "" {
		return nil, domain.NewError(domain.CodeMissingRequiredField, "url is required")
	}
	if err := requireUploader(sub.Uploader); err != nil {
		return nil, err
	}
	url := urlnorm.Normalize(sub.URL)
	span.SetAttributes(attribute.String("archive.url", url))

	if _, err := repo.FindVideoByURL(ctx, s.DB, url); err == nil {
		return nil, domain.NewError(domain.CodeDuplicatedURL, "url already archived")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr("find video", err)
	}

	og, err := s.Resolver.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}

	title := og.Title
	if sub.Title != nil && strings.TrimSpace(*sub.Title) != "" {
		title = strings.TrimSpace(*sub.Title)
	}
	if title == "" {
		return nil, domain.NewError(domain.CodeFailedGetOGP, "resolved metadata has no title")
	}
	desc := og.Description
	if sub.Description != nil {
		desc = *sub.Description
	}

	now := time.Now().UTC()
	arc = &domain.VideoArchive{
		ID:          s.newID(),
		Title:       title,
		Description: desc,
		URL:         url,
		ImageURL:    og.Image,
		MemberID:    sub.Uploader.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpsertMember(ctx, tx, sub.Uploader); err != nil {
			return storeErr("upsert member", err)
		}
		return storeErr("create video archive", repo.CreateVideoArchive(ctx, tx, arc))
	})
	if err != nil {
		return nil, err
	}
	return arc, nil
}

// ArchiveChallengeLink stores a link challenge. Challenge titles come from
// the caller, so no metadata is resolved.
func (s *ArchiveService) ArchiveChallengeLink(ctx context.Context, sub ChallengeLinkSubmission) (arc *domain.ChallengeArchive, err error) {
	ctx, span := tracer.Start(ctx, "ArchiveChallengeLink",
		trace.WithAttributes(attribute.String("user.id", sub.Uploader.ID)),
	)
	defer func() { finish(span, KindChallengeLink, err) }()

	if strings.TrimSpace(sub.URL) == "" || strings.TrimSpace(sub.Title) == "" {
		return nil, domain.NewError(domain.CodeMissingRequiredField, "title and url are required")
	}
	if err := requireUploader(sub.Uploader); err != nil {
		return nil, err
	}
	url := urlnorm.Normalize(sub.URL)
	span.SetAttributes(attribute.String("archive.url", url))

	if _, err := repo.FindChallengeByURL(ctx, s.DB, url); err == nil {
		return nil, domain.NewError(domain.CodeDuplicatedURL, "url already archived")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr("find challenge", err)
	}

	now := time.Now().UTC()
	arc = &domain.ChallengeArchive{
		ID:          s.newID(),
		Kind:        domain.ChallengeKindLink,
		Title:       strings.TrimSpace(sub.Title),
		Description: sub.Description,
		URL:         &url,
		MemberID:    sub.Uploader.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.persistChallenge(ctx, sub.Uploader, arc); err != nil {
		return nil, err
	}
	return arc, nil
}

// ArchiveChallengeText stores a free-text challenge.
func (s *ArchiveService) ArchiveChallengeText(ctx context.Context, sub ChallengeTextSubmission) (arc *domain.ChallengeArchive, err error) {
	ctx, span := tracer.Start(ctx, "ArchiveChallengeText",
		trace.WithAttributes(attribute.String("user.id", sub.Uploader.ID)),
	)
	defer func() { finish(span, KindChallengeText, err) }()

	if strings.TrimSpace(sub.Title) == "" {
		return nil, domain.NewError(domain.CodeMissingRequiredField, "title is required")
	}
	if err := requireUploader(sub.Uploader); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	arc = &domain.ChallengeArchive{
		ID:          s.newID(),
		Kind:        domain.ChallengeKindText,
		Title:       strings.TrimSpace(sub.Title),
		Description: sub.Description,
		MemberID:    sub.Uploader.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.persistChallenge(ctx, sub.Uploader, arc); err != nil {
		return nil, err
	}
	return arc, nil
}

func (s *ArchiveService) persistChallenge(ctx context.Context, up domain.Uploader, arc *domain.ChallengeArchive) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpsertMember(ctx, tx, up); err != nil {
			return storeErr("upsert member", err)
		}
		return storeErr("create challenge archive", repo.CreateChallengeArchive(ctx, tx, arc))
	})
}

// ListVideos returns a page of video archives and the total count.
func (s *ArchiveService) ListVideos(ctx context.Context, page, pageSize int) ([]domain.VideoArchive, int64, error) {
	ctx, span := tracer.Start(ctx, "ListVideos",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	total, err := repo.CountVideos(ctx, s.DB)
	if err != nil {
		return nil, 0, storeErr("count videos", err)
	}
	if total == 0 {
		return []domain.VideoArchive{}, 0, nil
	}
	items, err := repo.ListVideosPage(ctx, s.DB, offset, limit)
	if err != nil {
		return nil, 0, storeErr("list videos", err)
	}
	return items, total, nil
}

// ListChallenges returns a page of challenge archives and the total count.
func (s *ArchiveService) ListChallenges(ctx context.Context, page, pageSize int) ([]domain.ChallengeArchive, int64, error) {
	ctx, span := tracer.Start(ctx, "ListChallenges",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	total, err := repo.CountChallenges(ctx, s.DB)
	if err != nil {
		return nil, 0, storeErr("count challenges", err)
	}
	if total == 0 {
		return []domain.ChallengeArchive{}, 0, nil
	}
	items, err := repo.ListChallengesPage(ctx, s.DB, offset, limit)
	if err != nil {
		return nil, 0, storeErr("list challenges", err)
	}
	return items, total, nil
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}

func requireUploader(u domain.Uploader) error {
	if strings.TrimSpace(u.ID) == "" {
		return domain.NewError(domain.CodeMissingRequiredField, "uploader id is required")
	}
	return nil
}

// finish records the outcome on the span and the submissions counter.
func finish(span trace.Span, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	submissions.WithLabelValues(kind, outcome).Inc()
	span.End()
}
