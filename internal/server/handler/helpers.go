package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// maxBodyBytes bounds request bodies; a signed transaction is at most a few KiB.
const maxBodyBytes = 64 << 10

// errorBody is every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON marshals v and writes it with the given status. Marshal failures
// fall back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal_error","message":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// statusFor maps an error kind onto the HTTP status returned to clients.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindExpired, domain.KindRejected, domain.KindConflict:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err. Typed errors keep their code and message;
// anything else becomes a 500 carrying the raw message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	te, ok := domain.AsTradeError(err)
	if !ok {
		logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, domain.CodeInternal, err.Error())
		return
	}
	status := statusFor(te.Kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op+" failed",
			slog.String("code", te.Code),
			slog.String("error", te.Error()),
		)
	}
	writeJSON(w, status, errorBody{Error: te.Code, Message: te.Message})
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter, returning def when
// it is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
