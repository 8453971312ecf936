// Package admin serves the control API: the page-side surface of the worker
// (messages, sync registration, deferred submissions, push) plus status and metrics.
package admin

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iTrooz/offline-proxy/internal/clients"
	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/iTrooz/offline-proxy/internal/queue"
	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/sirupsen/logrus"
)

// maxPushPayload bounds the body accepted by POST /push
const maxPushPayload = 64 << 10

// Deps are the components the control API drives
type Deps struct {
	Registration  *worker.Registration
	Sync          *worker.SyncManager
	Queue         *queue.Queue
	Notifications *notify.Center
	Clients       *clients.Windows
	// NewsletterURL is used for newsletter submissions that carry no URL
	NewsletterURL string
}

// Handler implements the control API endpoints
type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// WorkerStatus describes one worker of the registration
type WorkerStatus struct {
	Version string `json:"version"`
	State   string `json:"state"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Active      *WorkerStatus `json:"active,omitempty"`
	Waiting     *WorkerStatus `json:"waiting,omitempty"`
	Installing  *WorkerStatus `json:"installing,omitempty"`
	PendingSync []string      `json:"pending_sync"`
}

func workerStatus(w *worker.Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{Version: w.Version().Tag, State: w.State().String()}
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Active:      workerStatus(h.deps.Registration.Active()),
		Waiting:     workerStatus(h.deps.Registration.Waiting()),
		Installing:  workerStatus(h.deps.Registration.Installing()),
		PendingSync: []string{},
	}
	if h.deps.Sync != nil {
		resp.PendingSync = h.deps.Sync.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostMessage handles POST /messages.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg worker.Message
	if !decodeJSONBody(w, r, &msg) {
		return
	}
	if msg.Type == "" {
		badRequest(w, "Message type is required")
		return
	}

	if err := h.deps.Registration.PostMessage(r.Context(), &msg); err != nil {
		if errors.Is(err, worker.ErrNoWorker) {
			unavailable(w, "No worker installed")
			return
		}
		logrus.Errorf("Message %s failed: %v", msg.Type, err)
		writeProblem(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RegisterSync handles POST /sync/{tag}.
func (h *Handler) RegisterSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if h.deps.Sync == nil {
		unavailable(w, "Background sync is disabled")
		return
	}
	h.deps.Sync.Register(tag)
	w.WriteHeader(http.StatusAccepted)
}

// SubmissionRequest is the body of POST /submissions/{store}
type SubmissionRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// SubmissionResponse describes a queued submission
type SubmissionResponse struct {
	ID        string    `json:"id"`
	Store     string    `json:"store"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func submissionToResponse(rec queue.Record) SubmissionResponse {
	return SubmissionResponse{
		ID:        rec.ID,
		Store:     rec.Store,
		Method:    rec.Method,
		URL:       rec.URL,
		CreatedAt: rec.CreatedAt,
	}
}

// storeParam returns the store named in the path, writing a 404 for unknown ones
func (h *Handler) storeParam(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	store := chi.URLParam(r, "store")
	tag, ok := worker.TagForStore(store)
	if !ok {
		notFound(w, "Unknown store "+store)
		return "", "", false
	}
	if h.deps.Queue == nil {
		unavailable(w, "Submission queue is disabled")
		return "", "", false
	}
	return store, tag, true
}

// Enqueue handles POST /submissions/{store}.
// The submission is queued and the store's sync tag registered.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	store, tag, ok := h.storeParam(w, r)
	if !ok {
		return
	}

	var req SubmissionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.URL == "" && store == queue.NewsletterSignups {
		req.URL = h.deps.NewsletterURL
	}
	if req.URL == "" {
		badRequest(w, "Submission URL is required")
		return
	}

	header := http.Header{}
	for k, v := range req.Headers {
		header.Set(k, v)
	}

	rec, err := h.deps.Queue.Add(store, queue.Record{
		Method: req.Method,
		URL:    req.URL,
		Header: header,
		Body:   []byte(req.Body),
	})
	if err != nil {
		logrus.Errorf("Failed to queue submission in %s: %v", store, err)
		internalError(w, "Failed to queue submission")
		return
	}

	if h.deps.Sync != nil {
		h.deps.Sync.Register(tag)
	}
	writeJSON(w, http.StatusCreated, submissionToResponse(rec))
}

// ListSubmissions handles GET /submissions/{store}.
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	store, _, ok := h.storeParam(w, r)
	if !ok {
		return
	}

	records, err := h.deps.Queue.List(store)
	if err != nil {
		logrus.Errorf("Failed to list %s: %v", store, err)
		internalError(w, "Failed to list submissions")
		return
	}

	out := make([]SubmissionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, submissionToResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// Push handles POST /push. The raw body is the push payload.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	active := h.deps.Registration.Active()
	if active == nil {
		unavailable(w, "No active worker")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
	if err != nil {
		badRequest(w, "Failed to read push payload")
		return
	}

	if _, err := active.Dispatch(r.Context(), worker.PushEvent(data)); err != nil {
		badRequest(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListNotifications handles GET /notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Notifications.List())
}

// ClickNotification handles POST /notifications/{id}/click?action=...
func (h *Handler) ClickNotification(w http.ResponseWriter, r *http.Request) {
	active := h.deps.Registration.Active()
	if active == nil {
		unavailable(w, "No active worker")
		return
	}

	id := chi.URLParam(r, "id")
	ev := worker.NotificationClickEvent(id, r.URL.Query().Get("action"))
	if _, err := active.Dispatch(r.Context(), ev); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			notFound(w, "Notification not found")
			return
		}
		logrus.Errorf("Notification click %s failed: %v", id, err)
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseNotification handles DELETE /notifications/{id}.
func (h *Handler) CloseNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Notifications.Close(chi.URLParam(r, "id")); err != nil {
		notFound(w, "Notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListClients handles GET /clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Clients.List())
}
