package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLister reads the append-only audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log to operators.
type AuditHandler struct {
	audit  AuditLister
	logger *slog.Logger
}

func NewAuditHandler(audit AuditLister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntryView `json:"entries"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List returns audit entries newest first. since and until are RFC 3339.
// GET /api/audit?limit=50&offset=0&since=...&until=...
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := domain.ListOpts{
		Limit:  min(queryInt(r, "limit", defaultAuditLimit), maxAuditLimit),
		Offset: queryInt(r, "offset", 0),
	}
	if opts.Limit == 0 {
		opts.Limit = defaultAuditLimit
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := r.URL.Query().Get(q.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "Invalid "+q.name+" timestamp, expected RFC 3339")
			return
		}
		*q.dst = &t
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView(e))
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: views, Limit: opts.Limit, Offset: opts.Offset})
}
