package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/cartbot/internal/catalog"
	"github.com/kalambet/cartbot/internal/pipeline"
	"github.com/kalambet/cartbot/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = validator.New()

// ChatService runs one chat turn.
type ChatService interface {
	Chat(ctx context.Context, req pipeline.Request) pipeline.Response
}

// CatalogReader is the read side of the catalog gateway.
type CatalogReader interface {
	FetchProducts(ctx context.Context) []catalog.Product
	FetchShops(ctx context.Context) []catalog.Shop
	FetchShopByID(ctx context.Context, id string) (catalog.Shop, bool)
	FetchCurrentFlashSales(ctx context.Context) []catalog.FlashSaleEntry
}

// SessionReader exposes stored conversations.
type SessionReader interface {
	Get(sessionID string) (session.Session, error)
	History(sessionID string, page, pageSize int) session.HistoryPage
	DeleteHistory(userID string) int
	ListSessions(userID string) []session.Summary
	ActiveSessions() int
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Chat                 ChatService
	Catalog              CatalogReader
	Sessions             SessionReader
	CompletionConfigured bool
	BackendURL           string
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
	UserID  string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response  string `json:"response"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// NewHandler returns the public HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(CallerAuth)

	r.Get("/health", handleHealth(deps))
	r.Post("/chat", handleChat(deps))
	r.Get("/products", handleProducts(deps))
	r.Get("/shops", handleShops(deps))
	r.Get("/shops/{id}", handleShop(deps))
	r.Get("/flash-sales", handleFlashSales(deps))
	r.Get("/session/{id}", handleSession(deps))
	r.Get("/user/{id}/history", handleHistory(deps))
	r.Delete("/user/{id}/history", handleDeleteHistory(deps))
	r.Get("/user/{id}/sessions", handleSessions(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                "healthy",
			"completion_configured": deps.CompletionConfigured,
			"backend_api_url":       deps.BackendURL,
			"active_sessions":       deps.Sessions.ActiveSessions(),
		})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		req.UserID = strings.TrimSpace(req.UserID)
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
			return
		}

		resp := deps.Chat.Chat(r.Context(), pipeline.Request{
			Message:       req.Message,
			UserID:        req.UserID,
			Authorization: AuthorizationFrom(r.Context()),
		})

		out := ChatResponse{
			Response:  resp.Response,
			Status:    resp.Status,
			UserID:    resp.UserID,
			SessionID: resp.SessionID,
		}
		code := http.StatusOK
		if resp.Status == pipeline.StatusError {
			code = http.StatusBadGateway
			out.Error = "completion service unavailable"
		}
		writeJSON(w, code, out)
	}
}

func handleProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products := deps.Catalog.FetchProducts(r.Context())
		if products == nil {
			products = []catalog.Product{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
	}
}

func handleShops(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shops := deps.Catalog.FetchShops(r.Context())
		if shops == nil {
			shops = []catalog.Shop{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"shops": shops, "count": len(shops)})
	}
}

func handleShop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		shop, ok := deps.Catalog.FetchShopByID(r.Context(), id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "shop %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, shop)
	}
}

func handleFlashSales(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := deps.Catalog.FetchCurrentFlashSales(r.Context())
		if entries == nil {
			entries = []catalog.FlashSaleEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"flash_sales": entries, "count": len(entries)})
	}
}

func handleSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, err := deps.Sessions.Get(id)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}
		messages := sess.Messages
		if messages == nil {
			messages = []session.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":    sess.ID,
			"user_id":       sess.UserID,
			"created_at":    sess.CreatedAt.Format(time.RFC3339),
			"message_count": len(messages),
			"messages":      messages,
		})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "pageSize", session.DefaultPageSize)

		h := deps.Sessions.History(session.MainSessionID(userID), page, pageSize)
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":        userID,
			"total_messages": h.Total,
			"page":           h.Page,
			"page_size":      h.PageSize,
			"total_pages":    h.TotalPages,
			"messages":       h.Messages,
		})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		n := deps.Sessions.DeleteHistory(userID)
		slog.Info("chat history deleted", "user_id", userID, "sessions", n)
		writeJSON(w, http.StatusOK, map[string]any{
			"message":          fmt.Sprintf("Deleted %d session(s) for user %s", n, userID),
			"user_id":          userID,
			"deleted_sessions": n,
		})
	}
}

func handleSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		sessions := deps.Sessions.ListSessions(userID)
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":        userID,
			"total_sessions": len(sessions),
			"sessions":       sessions,
		})
	}
}

// queryInt reads an integer query parameter. Malformed values fall back
// to def; range clamping is left to the session store.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if fe.Field() == "UserID" {
		field = "user_id"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
