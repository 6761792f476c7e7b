// Archive HTTP handlers.
//
// This file exposes the JSON API for archives:
//   - POST /archives/videos      (create, Idempotency-Key aware)
//   - GET  /archives/videos      (list, paginated, ETag support)
//   - GET  /archives/challenges  (list, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call the archive service,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/alert"
	"github.com/tbourn/go-archive-bot/internal/command"
	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/http/middleware"
	"github.com/tbourn/go-archive-bot/internal/messages"
	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/services"
	"github.com/tbourn/go-archive-bot/internal/utils"
)

//
// DTOs
//

// DiscordUser attributes an API submission to a chat-platform member.
type DiscordUser struct {
	ID   string `json:"id"   example:"123456789012345678"`
	Name string `json:"name" example:"alice"`
}

// ArchiveVideoRequest is the JSON payload for archiving a video. Title and
// description override the resolved metadata when present.
type ArchiveVideoRequest struct {
	URL         string       `json:"url"          example:"https://youtu.be/dQw4w9WgXcQ"`
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	DiscordUser *DiscordUser `json:"discord_user"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListVideosResponse wraps a page of video archives.
type ListVideosResponse struct {
	Videos     []domain.VideoArchive `json:"videos"`
	Pagination Pagination            `json:"pagination"`
}

// ListChallengesResponse wraps a page of challenge archives.
type ListChallengesResponse struct {
	Challenges []domain.ChallengeArchive `json:"challenges"`
	Pagination Pagination                `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.Clamp(utils.AtoiDefault(c.Query("page"), defaultPage), 1, 0)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// notModified sets a weak ETag derived from table stats and reports whether
// the client's copy is current. Stats failures skip the ETag.
func (h *Handlers) notModified(c *gin.Context, name string, stats func(context.Context, *gorm.DB) (int64, *time.Time, error), page, pageSize int) bool {
	if h.opts.DB == nil {
		return false
	}
	count, maxTS, err := stats(c.Request.Context(), h.opts.DB)
	if err != nil {
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d:%d:%d"`, name, count, ts, page, pageSize)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ArchiveVideo godoc
// @ID          archiveVideo
// @Summary     Archive a video link
// @Description Resolves metadata for the URL and stores the archive. Duplicate URLs are rejected.
// @Tags        Archives
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Replay-safe key"
// @Param       body             body    handlers.ArchiveVideoRequest  true  "Video payload"
//
// @Success     200  {object}  domain.VideoArchive
// @Failure     400  {object}  handlers.ErrorResponse  "Validation, duplicate or unsupported URL"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  handlers.ErrorResponse  "Metadata or internal failure"
// @Router      /archives/videos [post]
func (h *Handlers) ArchiveVideo(c *gin.Context) {
	if st, ok := middleware.StoredResponse(c); ok {
		raw(c, st.Status, st.Body)
		return
	}

	var req ArchiveVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.failDomain(c, domain.NewError(domain.CodeMissingRequiredField, "url is required"), "")
		return
	}
	if req.DiscordUser == nil || strings.TrimSpace(req.DiscordUser.ID) == "" {
		h.failDomain(c, domain.NewError(domain.CodeMissingRequiredField, "discord_user.id is required"), "")
		return
	}
	u, err := command.CheckURL(req.URL)
	if err != nil {
		h.failDomain(c, err, "")
		return
	}

	up := domain.Uploader{ID: strings.TrimSpace(req.DiscordUser.ID), DisplayName: strings.TrimSpace(req.DiscordUser.Name)}
	arc, err := h.opts.Archiver.ArchiveVideo(c.Request.Context(), services.VideoSubmission{
		URL:         u,
		Title:       req.Title,
		Description: req.Description,
		Uploader:    up,
	})
	if err != nil {
		h.failDomain(c, err, up.ID)
		return
	}

	body, err := json.Marshal(arc)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "encode response")
		return
	}
	h.storeAPIResponse(c, http.StatusOK, body)
	raw(c, http.StatusOK, body)
}

// failDomain maps an archive failure to the error envelope. Severe codes are
// alerted once with the request id as correlation id.
func (h *Handlers) failDomain(c *gin.Context, err error, user string) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if code.Severe() {
		middleware.LoggerFrom(c).Error().Err(err).Str("code", string(code)).Msg("archive failed")
		h.alertAsync(c.Request.Context(), err, alert.Context{
			CorrelationID: middleware.GetRequestID(c),
			Code:          code,
			Command:       "api:" + command.NameArchiveVideo,
			User:          user,
		})
	}
	middleware.AbortJSON(c, status, string(code), messages.ToUserMessage(h.opts.DefaultLocale, code))
}

// storeAPIResponse keeps a successful response for Idempotency-Key replays.
func (h *Handlers) storeAPIResponse(c *gin.Context, status int, body []byte) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok || h.opts.DB == nil {
		return
	}
	if _, err := repo.CreateIdempotency(c.Request.Context(), h.opts.DB, domain.ScopeAPI, key, status, body, h.opts.ReplayTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("storing idempotent response failed")
	}
}

// APIReplayLookup adapts stored API responses for middleware.IdempotencyValidator.
func (h *Handlers) APIReplayLookup() middleware.IdempotencyLookup {
	return func(ctx context.Context, key string, now time.Time) (*middleware.Stored, error) {
		if h.opts.DB == nil {
			return nil, nil
		}
		rec, err := repo.GetIdempotency(ctx, h.opts.DB, domain.ScopeAPI, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &middleware.Stored{Status: rec.Status, Body: rec.Body}, nil
	}
}

// ListVideos godoc
// @ID          listVideos
// @Summary     List video archives (paginated)
// @Description Returns a page of video archives, newest first. Supports weak ETag via If-None-Match.
// @Tags        Archives
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListVideosResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /archives/videos [get]
func (h *Handlers) ListVideos(c *gin.Context) {
	page, pageSize := clampPagination(c)
	if h.notModified(c, "videos", repo.VideosStats, page, pageSize) {
		return
	}
	items, total, err := h.opts.Archiver.ListVideos(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.VideoArchive{}
	}
	ok(c, http.StatusOK, ListVideosResponse{Videos: items, Pagination: paginate(page, pageSize, total)})
}

// ListChallenges godoc
// @ID          listChallenges
// @Summary     List challenge archives (paginated)
// @Tags        Archives
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.ListChallengesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /archives/challenges [get]
func (h *Handlers) ListChallenges(c *gin.Context) {
	page, pageSize := clampPagination(c)
	if h.notModified(c, "challenges", repo.ChallengesStats, page, pageSize) {
		return
	}
	items, total, err := h.opts.Archiver.ListChallenges(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.ChallengeArchive{}
	}
	ok(c, http.StatusOK, ListChallengesResponse{Challenges: items, Pagination: paginate(page, pageSize, total)})
}
