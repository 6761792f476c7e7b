package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-archive-bot/internal/alert"
	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/http/middleware"
	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/services"
	"github.com/tbourn/go-archive-bot/internal/signature"
)

//
// Stubs
//

type stubResolver struct {
	mu    sync.Mutex
	calls int
	ogp   domain.OGP
	err   error
}

func (r *stubResolver) Resolve(_ context.Context, _ string) (domain.OGP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.ogp, r.err
}

func (r *stubResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubAlerter struct {
	mu    sync.Mutex
	calls []alert.Context
	msgs  []string
}

func (a *stubAlerter) Alert(_ context.Context, msg string, ac alert.Context) alert.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ac)
	a.msgs = append(a.msgs, msg)
	return alert.Result{OK: true, Attempts: 1}
}

func (a *stubAlerter) Calls() []alert.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alert.Context(nil), a.calls...)
}

type stubEditor struct {
	mu       sync.Mutex
	contents []string
	tokens   []string
}

func (e *stubEditor) InteractionResponseEdit(i *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if edit.Content != nil {
		e.contents = append(e.contents, *edit.Content)
	}
	e.tokens = append(e.tokens, i.Token)
	return &discordgo.Message{}, nil
}

//
// Harness
//

type harness struct {
	t        *testing.T
	db       *gorm.DB
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
	resolver *stubResolver
	alerter  *stubAlerter
	editor   *stubEditor
	h        *Handlers
	r        *gin.Engine
}

const (
	videoChannel     = "100"
	challengeChannel = "200"
	apiToken         = "test-token"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	hs := &harness{
		t:        t,
		db:       newTestDB(t),
		pub:      pub,
		priv:     priv,
		resolver: &stubResolver{ogp: domain.OGP{Title: "Never Gonna Give You Up", Description: "desc", Image: "https://i.ytimg.com/x.jpg"}},
		alerter:  &stubAlerter{},
		editor:   &stubEditor{},
	}
	opts := Options{
		DB:              hs.db,
		Archiver:        services.NewArchiveService(hs.db, hs.resolver),
		Alerter:         hs.alerter,
		Editor:          hs.editor,
		PublicKey:       pub,
		AllowedChannels: map[string]struct{}{videoChannel: {}, challengeChannel: {}},
		DefaultLocale:   language.Japanese,
		ReplayTTL:       time.Hour,
		FollowupTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	hs.h = New(opts)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/interactions", hs.h.Interactions)
	api := r.Group("/api/v1", middleware.BearerAuth(apiToken),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, hs.h.APIReplayLookup()))
	api.POST("/archives/videos", hs.h.ArchiveVideo)
	api.GET("/archives/videos", hs.h.ListVideos)
	api.GET("/archives/challenges", hs.h.ListChallenges)
	hs.r = r
	return hs
}

// sign returns the signature headers for body.
func (hs *harness) sign(body []byte) (sig, ts string) {
	ts = strconv.FormatInt(time.Now().Unix(), 10)
	msg := append([]byte(ts), body...)
	return hex.EncodeToString(ed25519.Sign(hs.priv, msg)), ts
}

func (hs *harness) postInteraction(body []byte, signed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signed {
		sig, ts := hs.sign(body)
		req.Header.Set(signature.HeaderSignature, sig)
		req.Header.Set(signature.HeaderTimestamp, ts)
	}
	w := httptest.NewRecorder()
	hs.r.ServeHTTP(w, req)
	return w
}

type opt struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	Value any    `json:"value"`
}

type cmdSpec struct {
	id, channel, name, locale string
	opts                      []opt
}

func (c cmdSpec) payload() []byte {
	if c.id == "" {
		c.id = "1100000000000000001"
	}
	body := map[string]any{
		"id":             c.id,
		"application_id": "app-1",
		"type":           2,
		"token":          "interaction-token",
		"channel_id":     c.channel,
		"locale":         c.locale,
		"member": map[string]any{
			"nick": "ali",
			"user": map[string]any{"id": "u-1", "username": "alice"},
		},
		"data": map[string]any{
			"id":      "cmd-1",
			"name":    c.name,
			"type":    1,
			"options": c.opts,
		},
	}
	b, _ := json.Marshal(body)
	return b
}

func stringOpt(name, value string) opt { return opt{Name: name, Type: 3, Value: value} }

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) InteractionResponse {
	t.Helper()
	var resp InteractionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode reply: %v (%s)", err, w.Body.String())
	}
	return resp
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func newSignedRequest(body []byte, sig, ts string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set(signature.HeaderSignature, sig)
	req.Header.Set(signature.HeaderTimestamp, ts)
	return req
}

func serve(hs *harness, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	hs.r.ServeHTTP(w, req)
	return w
}
