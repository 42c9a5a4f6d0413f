package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hamzasheedi/secure-hub/internal/audit"
	"github.com/hamzasheedi/secure-hub/internal/vault"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSONStatus(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many attempts"})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindStatus = map[string]int{
	vault.KindInvalidParameter:    http.StatusBadRequest,
	vault.KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	vault.KindInsufficientStorage: http.StatusInsufficientStorage,
	vault.KindNotFoundOrForbidden: http.StatusNotFound,
	vault.KindDecryptionFailed:    http.StatusForbidden,
	vault.KindBackendUnavailable:  http.StatusServiceUnavailable,
	vault.KindCanceled:            http.StatusServiceUnavailable,
}

// Messages are fixed per kind so error text from lower layers never
// reaches clients.
var kindMessage = map[string]string{
	vault.KindInvalidParameter:    "invalid request",
	vault.KindPayloadTooLarge:     "file exceeds the size limit",
	vault.KindInsufficientStorage: "not enough storage to accept the file",
	vault.KindNotFoundOrForbidden: "file not found",
	vault.KindDecryptionFailed:    "wrong password or damaged file",
	vault.KindBackendUnavailable:  "storage temporarily unavailable",
	vault.KindCanceled:            "request canceled",
}

func statusFor(kind string) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := vault.Kind(err)
	code := statusFor(kind)
	msg, ok := kindMessage[kind]
	if !ok {
		msg = "internal error"
	}
	if code >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("kind", kind).Error("request failed")
	}
	writeJSONStatus(w, code, errorBody{Error: kind, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: vault.KindInvalidParameter, Message: msg})
}

type auditReport struct {
	Intact      bool   `json:"intact"`
	BrokenIndex *int   `json:"broken_index,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func reportFor(err error) (auditReport, bool) {
	if err == nil {
		return auditReport{Intact: true}, true
	}
	var broken *audit.BrokenLinkError
	if errors.As(err, &broken) {
		idx := broken.Index
		return auditReport{BrokenIndex: &idx, EntryID: broken.EntryID, Reason: broken.Reason}, true
	}
	return auditReport{}, false
}
