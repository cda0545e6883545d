// unadulting/handlers/handlers.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"unadulting/auth"
	"unadulting/config"
	"unadulting/database"
	"unadulting/forum"
	"unadulting/models"
	"unadulting/moderation"

	"github.com/go-chi/chi/v5"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	Forum() *forum.API
	Moderation() *moderation.Service
	Sessions() *auth.Service
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// respondError maps facade error classes onto HTTP statuses.
func respondError(w http.ResponseWriter, err error, app App) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, forum.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, forum.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, forum.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, forum.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, moderation.ErrNotModerator):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		app.Logger().Error("Request failed", "error", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()}, app)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, app App) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"}, app)
		return false
	}
	return true
}

// urlID extracts a numeric id from a chi URL parameter.
func urlID(w http.ResponseWriter, r *http.Request, name string, app App) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid " + name}, app)
		return 0, false
	}
	return id, true
}

// MakeHandler now accepts our generic App interface.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// HandleListCategories returns all categories in display order.
func HandleListCategories(w http.ResponseWriter, r *http.Request, app App) {
	cats, err := app.Forum().ListCategories(r.Context())
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"categories": cats}, app)
}

// HandleListTopics serves one page of the public topic list.
func HandleListTopics(w http.ResponseWriter, r *http.Request, app App) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	result, err := app.Forum().ListTopics(r.Context(), forum.ListTopicsParams{
		CategorySlug: q.Get("category"),
		Search:       q.Get("search"),
		Sort:         q.Get("sort"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		respondError(w, err, app)
		return
	}
	// Mirror the facade's clamp so totalPages divides by the page size the
	// query actually ran with.
	if pageSize < 1 || pageSize > config.MaxPageSize {
		pageSize = config.DefaultPageSize
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":      result.Items,
		"totalCount": result.TotalCount,
		"hasMore":    result.HasMore,
		"totalPages": forum.TotalPages(result.TotalCount, pageSize),
	}, app)
}

// HandleGetTopic serves one topic with its replies.
func HandleGetTopic(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "topicID", app)
	if !ok {
		return
	}
	topic, err := app.Forum().GetTopic(r.Context(), id)
	if err != nil {
		respondError(w, err, app)
		return
	}
	posts, err := app.Forum().ListPosts(r.Context(), id)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"topic": topic, "posts": posts}, app)
}

// HandleCreateTopic submits a new topic into the moderation queue.
func HandleCreateTopic(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Category           string `json:"category"`
		Title              string `json:"title"`
		Body               string `json:"body"`
		ContentWarning     bool   `json:"contentWarning"`
		ContentWarningText string `json:"contentWarningText"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	topic, err := app.Forum().CreateTopic(r.Context(), req.Category, req.Title, req.Body, req.ContentWarning, req.ContentWarningText)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusCreated, topic, app)
}

// HandleDeleteTopic soft-deletes a topic on its author's behalf.
func HandleDeleteTopic(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "topicID", app)
	if !ok {
		return
	}
	if err := app.Forum().DeleteTopic(r.Context(), id); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true}, app)
}

// HandleVoteTopic casts, flips, or clears the caller's vote.
func HandleVoteTopic(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "topicID", app)
	if !ok {
		return
	}
	var req struct {
		Vote int `json:"vote"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	res, err := app.Forum().VoteTopic(r.Context(), id, req.Vote)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, res, app)
}

// HandleListVotes returns the caller's own vote directions.
func HandleListVotes(w http.ResponseWriter, r *http.Request, app App) {
	votes, err := app.Forum().ListUserVotes(r.Context())
	if err != nil {
		respondError(w, err, app)
		return
	}
	out := make(map[string]int, len(votes))
	for id, v := range votes {
		out[strconv.FormatInt(id, 10)] = v
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"votes": out}, app)
}

// HandleCreatePost submits a reply to a topic.
func HandleCreatePost(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "topicID", app)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	post, err := app.Forum().CreatePost(r.Context(), id, req.Body)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusCreated, post, app)
}

// HandleUpdatePost edits a reply body.
func HandleUpdatePost(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "postID", app)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	post, err := app.Forum().UpdatePost(r.Context(), id, req.Body)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, post, app)
}

// HandleDeletePost removes a reply.
func HandleDeletePost(w http.ResponseWriter, r *http.Request, app App) {
	id, ok := urlID(w, r, "postID", app)
	if !ok {
		return
	}
	if err := app.Forum().DeletePost(r.Context(), id); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true}, app)
}

// HandleGetTextSize returns the caller's reading-size preference.
func HandleGetTextSize(w http.ResponseWriter, r *http.Request, app App) {
	respondJSON(w, http.StatusOK, map[string]string{"textSize": app.Forum().GetTextSize(r.Context())}, app)
}

// HandleSetTextSize stores the caller's reading-size preference.
func HandleSetTextSize(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		TextSize string `json:"textSize"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := app.Forum().SetTextSize(r.Context(), req.TextSize); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"textSize": req.TextSize}, app)
}

// HandleCreateReport files a report against a topic or, via the notes
// convention, against a specific reply.
func HandleCreateReport(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		TopicID int64  `json:"topicId"`
		Reason  string `json:"reason"`
		Notes   string `json:"notes"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	report, err := app.Forum().CreateReport(r.Context(), req.TopicID, req.Reason, req.Notes)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusCreated, report, app)
}
