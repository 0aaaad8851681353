// Package httpapi maps the chat room operations onto HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"batepapo/cmd/internal/chat"
)

const (
	// UserHeader identifies the acting participant.
	UserHeader = "user"

	defaultMaxBodyBytes int64 = 16 << 10
)

type participantRequest struct {
	Name string `json:"name"`
}

type participantResponse struct {
	Name string `json:"name"`
}

type messageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

func (m messageRequest) input() chat.MessageInput {
	return chat.MessageInput{To: m.To, Text: m.Text, Type: m.Type}
}

// Handler wires the participant and message routes to the Registry and Ledger.
type Handler struct {
	log      *slog.Logger
	registry *chat.Registry
	ledger   *chat.Ledger
	maxBody  int64
}

// HandlerOption configures optional handler settings.
type HandlerOption func(*Handler)

// WithMaxBodyBytes caps request bodies (default 16 KiB).
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, registry *chat.Registry, ledger *chat.Ledger, opts ...HandlerOption) (*Handler, error) {
	if registry == nil || ledger == nil {
		return nil, errors.New("httpapi: nil registry or ledger")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, registry: registry, ledger: ledger, maxBody: defaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /participants", h.handleListParticipants)
	mux.HandleFunc("POST /participants", h.handleRegister)
	mux.HandleFunc("GET /messages", h.handleListMessages)
	mux.HandleFunc("POST /messages", h.handleSend)
	mux.HandleFunc("POST /status", h.handleHeartbeat)
	mux.HandleFunc("PUT /messages/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /messages/{id}", h.handleDelete)
}

// ---- handlers ----

func (h *Handler) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.registry.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_json", err.Error())
		return
	}

	p, err := h.registry.Register(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, participantResponse{Name: p.Name})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	msgs, err := h.ledger.List(r.Context(), user, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_json", err.Error())
		return
	}

	m, err := h.ledger.Send(r.Context(), user, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.registry.Heartbeat(r.Context(), user); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_json", err.Error())
		return
	}

	m, err := h.ledger.Update(r.Context(), r.PathValue("id"), user, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Delete(r.Context(), r.PathValue("id"), user); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ---- helpers ----

// requireUser reads the acting user. The header is checked before anything
// else, so a request without it is always a 400.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing_user", `header "user" is required`)
		return "", false
	}
	return user, true
}

// parseLimit returns 0 (all) for absent, non-numeric or non-positive values.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("http.handler.fail", "method", r.Method, "route", r.Pattern, "err", err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, publicMessage(err))
}

// statusFor maps chat error kinds to HTTP statuses and stable error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrMissingUser):
		return http.StatusBadRequest, "missing_user"
	case chat.IsInvalidInput(err):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, chat.ErrUnknownSender):
		return http.StatusUnprocessableEntity, "unknown_sender"
	case chat.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, chat.ErrNotOwner):
		return http.StatusUnauthorized, "not_owner"
	case errors.Is(err, chat.ErrRecipientNotFound):
		return http.StatusNotFound, "recipient_not_found"
	case chat.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// publicMessage strips the operation prefix from an OpError.
func publicMessage(err error) string {
	var opErr chat.OpError
	if !errors.As(err, &opErr) {
		return err.Error()
	}
	if opErr.Msg == "" {
		return opErr.Kind.Error()
	}
	return opErr.Kind.Error() + ": " + opErr.Msg
}
