package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-pkgz/rest"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/store"
)

// errorBody mirrors httpapi.ErrorBody (spec §7's `{error, message}` wire
// shape) — duplicated rather than imported to keep this package independent
// of the HTTP layer package.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, errorBody{Error: "INTERNAL", Message: "internal error"})
		return
	}
	w.WriteHeader(appErr.Kind.HTTPStatus())
	rest.RenderJSON(w, errorBody{Error: appErr.Code, Message: appErr.Message})
}

// Handler serves the supplemented admin audit-query endpoint, mirroring
// app_teacher_ref/server/audit.go's AuditHandler/HandleQuery — simplified
// since this Handler is mounted behind httpapi's BearerAuth+AdminOnly chain,
// so the admin/401-vs-403 distinction the teacher re-derives per request is
// already enforced by the router.
type Handler struct {
	store    *store.Store
	maxLimit int
}

func NewHandler(s *store.Store, maxLimit int) *Handler {
	if maxLimit <= 0 {
		maxLimit = 10000
	}
	return &Handler{store: s, maxLimit: maxLimit}
}

// QueryRequest is the POST /admin/audit/query JSON body.
type QueryRequest struct {
	Actor     string `json:"actor,omitempty"`
	ActorType string `json:"actor_type,omitempty"`
	Action    string `json:"action,omitempty"`
	Result    string `json:"result,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// QueryResponse is the paginated audit-query response.
type QueryResponse struct {
	Entries []store.AuditEntry `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
}

// HandleQuery serves POST /admin/audit/query.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", "invalid request body"))
		return
	}

	q, err := buildQuery(req, h.maxLimit)
	if err != nil {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", err.Error()))
		return
	}

	entries, total, err := h.store.QueryAudit(r.Context(), q)
	if err != nil {
		writeErr(w, r, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to query audit log", err))
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}

	rest.RenderJSON(w, QueryResponse{Entries: entries, Total: total, Limit: q.Limit})
}

func buildQuery(req QueryRequest, maxLimit int) (store.AuditQuery, error) {
	q := store.AuditQuery{
		Actor:     req.Actor,
		ActorType: req.ActorType,
		Action:    req.Action,
		Result:    req.Result,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	if req.From != "" {
		from, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			return store.AuditQuery{}, fmt.Errorf("invalid from timestamp: %w", err)
		}
		q.From = from
	}
	if req.To != "" {
		to, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			return store.AuditQuery{}, fmt.Errorf("invalid to timestamp: %w", err)
		}
		q.To = to
	}

	return q, nil
}
