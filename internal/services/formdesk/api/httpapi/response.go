package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/platform/errors/i18n"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
)

const fieldMetadataPrefix = "field."

// errorBody is the JSON shape of every error response. Fields holds
// per-field validation messages for INVALID_ENTITY.
type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// writeError maps err to its HTTP status with a message localized for the
// request.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := apperrors.As(err)
	locale := requestctx.LocaleFromContext(requestContext(r))
	body := errorBody{
		Error: i18n.GetCatalog(locale).Format(string(domainErr.Code), domainErr.Metadata),
		Code:  string(domainErr.Code),
	}
	for key, value := range domainErr.Metadata {
		if name, ok := strings.CutPrefix(key, fieldMetadataPrefix); ok {
			if body.Fields == nil {
				body.Fields = map[string]string{}
			}
			body.Fields[name] = value
		}
	}
	status := domainErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get(requestIDHeader)),
			zap.Error(err),
		)
	}
	_ = writeJSON(w, status, body)
}
