package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/social-publisher/internal/cache"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/repo"
	"github.com/LeventeLantos/social-publisher/internal/scheduler"
	"github.com/LeventeLantos/social-publisher/internal/service"
)

type ContentReader interface {
	LoadPublication(ctx context.Context, contentID int64) (repo.Publication, error)
	ListPublished(ctx context.Context, limit, offset int) ([]model.ContentItem, error)
}

type ContentPublisher interface {
	Publish(ctx context.Context, contentID int64, opts service.PublishOptions) (service.Summary, error)
}

// PostCache reads the post ids cached after a successful run.
type PostCache interface {
	Published(ctx context.Context, contentID int64) ([]cache.PublishedPost, bool, error)
}

type Handler struct {
	sched     *scheduler.Scheduler
	content   ContentReader
	publisher ContentPublisher
	posts     PostCache
	log       *slog.Logger
}

func NewHandler(s *scheduler.Scheduler, content ContentReader, publisher ContentPublisher) *Handler {
	return &Handler{sched: s, content: content, publisher: publisher, log: slog.Default()}
}

func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.log = l
	}
	return h
}

// WithPostCache lets GetPosts answer from the cache before the store.
func (h *Handler) WithPostCache(c PostCache) *Handler {
	h.posts = c
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type summaryResponse struct {
	ContentID int64  `json:"contentId"`
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// PublishContent runs one publish attempt synchronously. ?republish=true
// also re-posts targets that are already published.
func (h *Handler) PublishContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	opts := service.PublishOptions{Republish: parseBool(r.URL.Query().Get("republish"))}

	s, err := h.publisher.Publish(r.Context(), id, opts)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "content not found")
		return
	case service.IsBusy(err):
		writeError(w, http.StatusConflict, "content is already being published")
		return
	case err != nil:
		h.log.Error("publish request failed", "content_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		ContentID: id,
		Status:    string(s.Status),
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Error:     s.Error,
	})
}

type contentResponse struct {
	ID          int64            `json:"id"`
	Body        string           `json:"body"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	Status      string           `json:"status"`
	ScheduledAt *time.Time       `json:"scheduledAt,omitempty"`
	PublishedAt *time.Time       `json:"publishedAt,omitempty"`
	LastError   *string          `json:"lastError,omitempty"`
	Targets     []targetResponse `json:"targets,omitempty"`
}

// targetResponse never carries account credentials.
type targetResponse struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"accountId"`
	Platform       string     `json:"platform"`
	Account        string     `json:"account"`
	Status         string     `json:"status"`
	PlatformPostID *string    `json:"platformPostId,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
}

func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}

	pub, err := h.content.LoadPublication(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := toContentResponse(pub.Content)
	for _, t := range pub.Targets {
		acc := pub.Accounts[t.AccountID]
		resp.Targets = append(resp.Targets, targetResponse{
			ID:             t.ID,
			AccountID:      t.AccountID,
			Platform:       string(acc.Platform),
			Account:        acc.Label(),
			Status:         string(t.Status),
			PlatformPostID: t.PlatformPostID,
			ErrorMessage:   t.ErrorMessage,
			PublishedAt:    t.PublishedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type postsResponse struct {
	ContentID int64                 `json:"contentId"`
	Source    string                `json:"source"`
	Posts     []cache.PublishedPost `json:"posts"`
}

// GetPosts lists the platform post ids of a content item. A cache miss or
// cache error falls back to the store.
func (h *Handler) GetPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}

	if h.posts != nil {
		posts, hit, err := h.posts.Published(r.Context(), id)
		if err != nil {
			h.log.Warn("post cache read failed", "content_id", id, "error", err)
		}
		if err == nil && hit {
			writeJSON(w, http.StatusOK, postsResponse{ContentID: id, Source: "cache", Posts: posts})
			return
		}
	}

	pub, err := h.content.LoadPublication(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	posts := make([]cache.PublishedPost, 0, len(pub.Targets))
	for _, t := range pub.Targets {
		if t.Status != model.TargetPublished || t.PlatformPostID == nil {
			continue
		}
		posts = append(posts, cache.PublishedPost{
			TargetID: t.ID,
			Platform: string(pub.Accounts[t.AccountID].Platform),
			PostID:   *t.PlatformPostID,
		})
	}
	writeJSON(w, http.StatusOK, postsResponse{ContentID: id, Source: "store", Posts: posts})
}

func (h *Handler) ListPublished(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.content.ListPublished(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]contentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toContentResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func toContentResponse(c model.ContentItem) contentResponse {
	return contentResponse{
		ID:          c.ID,
		Body:        c.Body,
		ImageURL:    c.ImageURL,
		Status:      string(c.Status),
		ScheduledAt: c.ScheduledAt,
		PublishedAt: c.PublishedAt,
		LastError:   c.LastError,
	}
}

func contentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid content id")
		return 0, false
	}
	return id, true
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
