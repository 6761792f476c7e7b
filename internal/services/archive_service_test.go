package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/repo"
)

// ----- Fakes -----

type fakeResolver struct {
	calls int
	urls  []string
	og    domain.OGP
	err   error
	hook  func()
}

func (r *fakeResolver) Resolve(_ context.Context, rawURL string) (domain.OGP, error) {
	r.calls++
	r.urls = append(r.urls, rawURL)
	if r.hook != nil {
		r.hook()
	}
	return r.og, r.err
}

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

var alice = domain.Uploader{ID: "u1", DisplayName: "alice"}

// ----- Tests -----

func TestArchiveVideo_NormalizesAndPersists(t *testing.T) {
	db := newSvcDB(t)
	res := &fakeResolver{og: domain.OGP{Title: "Song", Description: "desc", Image: "https://img/x.jpg"}}
	svc := &ArchiveService{DB: db, Resolver: res, NewID: func() string { return "id-1" }}

	arc, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: "https://youtu.be/dQw4w9WgXcQ?t=10", Uploader: alice})
	if err != nil {
		t.Fatalf("ArchiveVideo: %v", err)
	}
	want := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	if arc.URL != want || arc.ID != "id-1" || arc.Title != "Song" || arc.Description != "desc" || arc.ImageURL != "https://img/x.jpg" {
		t.Fatalf("unexpected archive: %+v", arc)
	}
	if len(res.urls) != 1 || res.urls[0] != want {
		t.Fatalf("resolver must see the normalized url, got %v", res.urls)
	}

	var n int64
	db.Model(&domain.VideoArchive{}).Where("url = ?", want).Count(&n)
	if n != 1 {
		t.Fatalf("expected one stored row, got %d", n)
	}
	m, err := repo.GetMember(context.Background(), db, "u1")
	if err != nil || m.Name != "alice" {
		t.Fatalf("member not upserted: %+v %v", m, err)
	}
}

func TestArchiveVideo_DuplicateSkipsResolver(t *testing.T) {
	db := newSvcDB(t)
	res := &fakeResolver{og: domain.OGP{Title: "Song"}}
	svc := NewArchiveService(db, res)
	ctx := context.Background()

	if _, err := svc.ArchiveVideo(ctx, VideoSubmission{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Uploader: alice}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	before := testutil.ToFloat64(submissions.WithLabelValues(KindVideo, string(domain.CodeDuplicatedURL)))

	_, err := svc.ArchiveVideo(ctx, VideoSubmission{URL: "https://m.youtube.com/watch?v=dQw4w9WgXcQ&feature=share", Uploader: alice})
	if !errors.Is(err, domain.ErrDuplicatedURL) {
		t.Fatalf("expected duplicated-url, got %v", err)
	}
	if res.calls != 1 {
		t.Fatalf("resolver must not run for duplicates, calls=%d", res.calls)
	}
	after := testutil.ToFloat64(submissions.WithLabelValues(KindVideo, string(domain.CodeDuplicatedURL)))
	if after-before != 1 {
		t.Fatalf("expected duplicate outcome to be counted")
	}
}

func TestArchiveVideo_Overrides(t *testing.T) {
	db := newSvcDB(t)
	res := &fakeResolver{og: domain.OGP{Title: "Scraped", Description: "scraped desc"}}
	svc := NewArchiveService(db, res)
	ctx := context.Background()

	arc, err := svc.ArchiveVideo(ctx, VideoSubmission{
		URL: "https://x.com/a/status/1", Title: strPtr("Mine"), Description: strPtr(""), Uploader: alice,
	})
	if err != nil {
		t.Fatalf("ArchiveVideo: %v", err)
	}
	if arc.Title != "Mine" || arc.Description != "" {
		t.Fatalf("caller overrides not applied: %+v", arc)
	}

	arc, err = svc.ArchiveVideo(ctx, VideoSubmission{
		URL: "https://x.com/a/status/2", Title: strPtr("   "), Uploader: alice,
	})
	if err != nil {
		t.Fatalf("ArchiveVideo: %v", err)
	}
	if arc.Title != "Scraped" || arc.Description != "scraped desc" {
		t.Fatalf("blank title / nil description must keep scraped values: %+v", arc)
	}
}

func TestArchiveVideo_ResolverErrorsPassThrough(t *testing.T) {
	db := newSvcDB(t)
	for _, want := range []*domain.Error{domain.ErrUnsupportedURL, domain.ErrFailedGetOGP} {
		svc := NewArchiveService(db, &fakeResolver{err: want})
		_, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: "https://example.com/v", Uploader: alice})
		if domain.CodeOf(err) != want.Code {
			t.Fatalf("expected %s, got %v", want.Code, err)
		}
	}
	var n int64
	db.Model(&domain.Member{}).Count(&n)
	if n != 0 {
		t.Fatalf("nothing may be written when resolution fails")
	}
}

func TestArchiveVideo_UniqueConflictBecomesDuplicate(t *testing.T) {
	db := newSvcDB(t)
	url := "https://www.nicovideo.jp/watch/sm9"
	res := &fakeResolver{og: domain.OGP{Title: "t"}}
	// A concurrent submission lands between the duplicate check and the insert.
	res.hook = func() {
		_ = repo.UpsertMember(context.Background(), db, domain.Uploader{ID: "u2", DisplayName: "bob"})
		_ = repo.CreateVideoArchive(context.Background(), db, &domain.VideoArchive{ID: "winner", Title: "t", URL: url, MemberID: "u2"})
	}
	svc := NewArchiveService(db, res)

	_, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: url, Uploader: alice})
	if !errors.Is(err, domain.ErrDuplicatedURL) {
		t.Fatalf("expected duplicated-url from unique index, got %v", err)
	}
	var n int64
	db.Model(&domain.VideoArchive{}).Where("url = ?", url).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one row, got %d", n)
	}
	// The member write rolled back with the archive insert.
	if _, err := repo.GetMember(context.Background(), db, "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("member write should roll back, got %v", err)
	}
}

func TestArchiveVideo_Validation(t *testing.T) {
	svc := NewArchiveService(newSvcDB(t), &fakeResolver{})
	if _, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: " ", Uploader: alice}); !errors.Is(err, domain.ErrMissingRequiredField) {
		t.Fatalf("blank url: %v", err)
	}
	if _, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: "https://x.com/a"}); !errors.Is(err, domain.ErrMissingRequiredField) {
		t.Fatalf("missing uploader: %v", err)
	}
}

func TestArchiveVideo_StoreFailureIsUnexpected(t *testing.T) {
	db := newSvcDB(t)
	if err := db.Migrator().DropTable(&domain.VideoArchive{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	svc := NewArchiveService(db, &fakeResolver{og: domain.OGP{Title: "t"}})
	_, err := svc.ArchiveVideo(context.Background(), VideoSubmission{URL: "https://x.com/a", Uploader: alice})
	if domain.CodeOf(err) != domain.CodeUnexpected {
		t.Fatalf("expected unexpected, got %v", err)
	}
}

func TestArchiveChallenge_LinkAndText(t *testing.T) {
	db := newSvcDB(t)
	res := &fakeResolver{}
	svc := NewArchiveService(db, res)
	ctx := context.Background()

	link, err := svc.ArchiveChallengeLink(ctx, ChallengeLinkSubmission{URL: "https://example.com/c?utm=1#top", Title: " T ", Uploader: alice})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if link.Kind != domain.ChallengeKindLink || link.URL == nil || *link.URL != "https://example.com/c" || link.Title != "T" {
		t.Fatalf("unexpected link challenge: %+v", link)
	}
	if res.calls != 0 {
		t.Fatalf("challenge links are not resolved")
	}

	if _, err := svc.ArchiveChallengeLink(ctx, ChallengeLinkSubmission{URL: "https://example.com/c", Title: "again", Uploader: alice}); !errors.Is(err, domain.ErrDuplicatedURL) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	for i := 0; i < 2; i++ {
		text, err := svc.ArchiveChallengeText(ctx, ChallengeTextSubmission{Title: "T", Description: "body", Uploader: alice})
		if err != nil {
			t.Fatalf("text #%d: %v", i, err)
		}
		if text.Kind != domain.ChallengeKindText || text.URL != nil || text.Description != "body" {
			t.Fatalf("unexpected text challenge: %+v", text)
		}
	}
	if _, err := svc.ArchiveChallengeText(ctx, ChallengeTextSubmission{Uploader: alice}); !errors.Is(err, domain.ErrMissingRequiredField) {
		t.Fatalf("missing title: %v", err)
	}
}

func TestMember_FirstSeenNameWins(t *testing.T) {
	db := newSvcDB(t)
	svc := NewArchiveService(db, &fakeResolver{})
	ctx := context.Background()
	_, _ = svc.ArchiveChallengeText(ctx, ChallengeTextSubmission{Title: "a", Uploader: domain.Uploader{ID: "u9", DisplayName: "first"}})
	_, _ = svc.ArchiveChallengeText(ctx, ChallengeTextSubmission{Title: "b", Uploader: domain.Uploader{ID: "u9", DisplayName: "renamed"}})

	m, err := repo.GetMember(ctx, db, "u9")
	if err != nil || m.Name != "first" {
		t.Fatalf("expected first-seen name, got %+v %v", m, err)
	}
}

func TestListVideosAndChallenges(t *testing.T) {
	db := newSvcDB(t)
	svc := NewArchiveService(db, &fakeResolver{og: domain.OGP{Title: "t"}})
	ctx := context.Background()

	items, total, err := svc.ListVideos(ctx, 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty list: %v %d %v", items, total, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.ArchiveVideo(ctx, VideoSubmission{URL: fmt.Sprintf("https://x.com/a/status/%d", i), Uploader: alice}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	items, total, err = svc.ListVideos(ctx, 2, 2)
	if err != nil || total != 3 || len(items) != 1 {
		t.Fatalf("page 2: %d items, total %d, err %v", len(items), total, err)
	}
	cs, total, err := svc.ListChallenges(ctx, 0, 0)
	if err != nil || total != 0 || len(cs) != 0 {
		t.Fatalf("challenges: %v %d %v", cs, total, err)
	}
}

func TestNormalizeStoredURLs(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	_ = repo.UpsertMember(ctx, db, alice)

	seed := map[string]string{
		"a": "https://youtu.be/dQw4w9WgXcQ",
		"b": "https://example.com/p?utm_source=x",
		"c": "https://example.com/ok",
		"d": "https://example.com/ok#frag", // canonical form taken by c
	}
	for id, u := range seed {
		if err := repo.CreateVideoArchive(ctx, db, &domain.VideoArchive{ID: id, Title: "t", URL: u, MemberID: "u1"}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	cu := "https://example.com/ch?x=1"
	_ = repo.CreateChallengeArchive(ctx, db, &domain.ChallengeArchive{ID: "ch", Kind: domain.ChallengeKindLink, Title: "t", URL: &cu, MemberID: "u1"})

	svc := NewArchiveService(db, nil)
	rep, err := svc.NormalizeStoredURLs(ctx, 2)
	if err != nil {
		t.Fatalf("NormalizeStoredURLs: %v", err)
	}
	if rep.Scanned != 5 || rep.Rewritten != 3 || len(rep.Conflicts) != 1 || rep.Conflicts[0] != "d" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	v, err := repo.FindVideoByURL(ctx, db, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil || v.ID != "a" {
		t.Fatalf("video a not rewritten: %+v %v", v, err)
	}

	again, err := svc.NormalizeStoredURLs(ctx, 2)
	if err != nil || again.Rewritten != 0 {
		t.Fatalf("second pass should be a no-op: %+v %v", again, err)
	}
}
