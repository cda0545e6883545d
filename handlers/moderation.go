// unadulting/handlers/moderation.go
package handlers

import (
	"net/http"
)

// HandleModPending serves the approval queue.
func HandleModPending(w http.ResponseWriter, r *http.Request, app App) {
	q := r.URL.Query()
	topics, err := app.Moderation().ListPending(r.Context(), q.Get("category"), q.Get("search"))
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"topics": topics}, app)
}

// HandleModReports serves unresolved reports.
func HandleModReports(w http.ResponseWriter, r *http.Request, app App) {
	reports, err := app.Moderation().ListOpenReports(r.Context())
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports}, app)
}

// HandleModAudit serves the recent moderation log.
func HandleModAudit(w http.ResponseWriter, r *http.Request, app App) {
	entries, err := app.Moderation().ListRecentAudit(r.Context())
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries}, app)
}

func modTopicAction(w http.ResponseWriter, r *http.Request, app App, act func(int64) error) {
	var req struct {
		TopicID int64 `json:"topicId"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := act(req.TopicID); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true}, app)
}

// HandleModApprove publishes a pending topic.
func HandleModApprove(w http.ResponseWriter, r *http.Request, app App) {
	modTopicAction(w, r, app, func(id int64) error {
		return app.Moderation().ApproveTopic(r.Context(), id)
	})
}

// HandleModDeleteTopic soft-deletes a topic.
func HandleModDeleteTopic(w http.ResponseWriter, r *http.Request, app App) {
	modTopicAction(w, r, app, func(id int64) error {
		return app.Moderation().DeleteTopic(r.Context(), id)
	})
}

// HandleModTogglePin flips a topic's pinned flag.
func HandleModTogglePin(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		TopicID int64 `json:"topicId"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	pinned, err := app.Moderation().TogglePin(r.Context(), req.TopicID)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"pinned": pinned}, app)
}

// HandleModToggleLock flips a topic's locked flag.
func HandleModToggleLock(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		TopicID int64 `json:"topicId"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	locked, err := app.Moderation().ToggleLock(r.Context(), req.TopicID)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"locked": locked}, app)
}

// HandleModResolveReport closes an open report.
func HandleModResolveReport(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		ReportID int64 `json:"reportId"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := app.Moderation().ResolveReport(r.Context(), req.ReportID); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true}, app)
}

// HandleModDeletePost removes a reply on moderator authority.
func HandleModDeletePost(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		PostID int64 `json:"postId"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := app.Moderation().DeletePost(r.Context(), req.PostID); err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true}, app)
}
