package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"github.com/louisbranch/formdesk/internal/platform/logging"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authn"
	"github.com/louisbranch/formdesk/internal/services/formdesk/dispatch"
	"github.com/louisbranch/formdesk/internal/services/formdesk/routepath"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

const (
	maxBodyBytes = 1 << 20

	htmxHeader         = "HX-Request"
	htmxRedirectHeader = "HX-Redirect"
	htmxRefreshHeader  = "HX-Refresh"
)

// Options configures the HTTP surface.
type Options struct {
	// Verifier checks bearer tokens. Nil serves every request anonymously.
	Verifier *authn.TokenVerifier
	Logger   *zap.Logger
}

// Handler routes formdesk HTTP requests to the dispatch engine.
type Handler struct {
	engine *dispatch.Engine
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewHandler builds the routed handler wrapped in the standard middleware.
func NewHandler(engine *dispatch.Engine, opts Options) (http.Handler, error) {
	if engine == nil {
		return nil, errors.New("dispatch engine is required")
	}
	h := &Handler{engine: engine, logger: logging.OrNop(opts.Logger), mux: http.NewServeMux()}
	h.routes()
	return Chain(h.mux,
		RequestID(),
		RecoverPanic(h.logger),
		Locale(),
		Authenticate(opts.Verifier, h.logger),
	), nil
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET "+routepath.Health, h.health)
	h.mux.HandleFunc("GET "+routepath.NodeNewPattern, h.nodeView)
	h.mux.HandleFunc("GET "+routepath.NodePattern, h.nodeView)
	h.mux.HandleFunc("GET "+routepath.CollectionPattern, h.collectionView)
	h.mux.HandleFunc("GET "+routepath.RelationPattern, h.relationView)
	h.mux.HandleFunc("POST "+routepath.NodeExecutePattern, h.executeNode)
	h.mux.HandleFunc("POST "+routepath.ListExecutePattern, h.executeList)
	h.mux.HandleFunc("POST "+routepath.RelationExecutePattern, h.executeRelation)
	h.mux.HandleFunc("GET "+routepath.RelationEditorPattern, h.relationEditor)
	h.mux.HandleFunc("GET "+routepath.RelationWatchPattern, h.relationWatch)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) nodeView(w http.ResponseWriter, r *http.Request) {
	component, err := h.engine.NodeView(r.Context(), dispatch.NodeRequest{
		Action:     r.PathValue("action"),
		Collection: r.PathValue("collection"),
		Variant:    r.PathValue("variant"),
		ParentID:   parentID(r),
		ID:         r.PathValue("id"),
	})
	h.writeComponent(w, r, component, err)
}

func (h *Handler) collectionView(w http.ResponseWriter, r *http.Request) {
	query, err := listQuery(r)
	if err != nil {
		_ = writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}
	component, err := h.engine.CollectionListView(r.Context(), dispatch.ListRequest{
		Action:     r.PathValue("action"),
		Collection: r.PathValue("collection"),
		ParentID:   parentID(r),
		Query:      query,
	})
	h.writeComponent(w, r, component, err)
}

func (h *Handler) relationView(w http.ResponseWriter, r *http.Request) {
	component, err := h.engine.RelationListView(r.Context(), dispatch.RelationRequest{
		Action:     r.PathValue("action"),
		Collection: r.PathValue("collection"),
		Owner:      ownerFromPath(r),
		ParentID:   parentID(r),
	})
	h.writeComponent(w, r, component, err)
}

func (h *Handler) writeComponent(w http.ResponseWriter, r *http.Request, component templ.Component, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		h.logger.Warn("render view", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// executeRequest is the JSON body of every execute endpoint.
type executeRequest struct {
	Action   string          `json:"action"`
	Button   string          `json:"button"`
	Variant  string          `json:"variant,omitempty"`
	ParentID string          `json:"parentId,omitempty"`
	ID       string          `json:"id,omitempty"`
	// Row targets a row button instead of a collection button.
	Row     bool            `json:"row,omitempty"`
	Owner   *ownerRef       `json:"owner,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload any             `json:"payload,omitempty"`
}

type ownerRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Field      string `json:"field"`
}

func (h *Handler) executeNode(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req := dispatch.NodeRequest{
		Action:     body.Action,
		Collection: r.PathValue("collection"),
		Variant:    r.PathValue("variant"),
		ParentID:   body.ParentID,
		ID:         body.ID,
	}
	ec, err := h.engine.PrepareNode(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer ec.Close()
	if err := h.engine.BindSubmission(ctx, ec, body.data()); err != nil {
		h.writeError(w, r, err)
		return
	}
	intent, err := h.engine.ExecuteNode(ctx, req, ec, body.Button, body.Payload)
	h.writeIntent(w, r, intent, err)
}

func (h *Handler) executeList(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	collection := r.PathValue("collection")
	if !body.Row {
		intent, err := h.engine.ExecuteList(ctx, dispatch.ListRequest{
			Action:     body.Action,
			Collection: collection,
			ParentID:   body.ParentID,
		}, body.Button, body.Payload)
		h.writeIntent(w, r, intent, err)
		return
	}
	req := body.rowRequest(collection)
	ec, err := h.engine.PrepareListRow(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer ec.Close()
	if err := h.engine.BindSubmission(ctx, ec, body.data()); err != nil {
		h.writeError(w, r, err)
		return
	}
	intent, err := h.engine.ExecuteListRow(ctx, req, ec, body.Button, body.Payload)
	h.writeIntent(w, r, intent, err)
}

func (h *Handler) executeRelation(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}
	if body.Owner == nil || body.Owner.Collection == "" || body.Owner.ID == "" || body.Owner.Field == "" {
		_ = writeJSON(w, http.StatusBadRequest, errorBody{Error: "owner collection, id and field are required", Code: "BAD_REQUEST"})
		return
	}
	ctx := r.Context()
	collection := r.PathValue("collection")
	owner := storage.Owner{Collection: body.Owner.Collection, ID: body.Owner.ID, Field: body.Owner.Field}
	if !body.Row {
		intent, err := h.engine.ExecuteRelation(ctx, dispatch.RelationRequest{
			Action:     body.Action,
			Collection: collection,
			Owner:      owner,
			ParentID:   body.ParentID,
		}, body.Button, body.Payload)
		h.writeIntent(w, r, intent, err)
		return
	}
	req := dispatch.RelationRowRequest{RowRequest: body.rowRequest(collection), Owner: owner}
	ec, err := h.engine.PrepareRelationRow(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer ec.Close()
	if err := h.engine.BindSubmission(ctx, ec, body.data()); err != nil {
		h.writeError(w, r, err)
		return
	}
	intent, err := h.engine.ExecuteRelationRow(ctx, req, ec, body.Button, body.Payload)
	h.writeIntent(w, r, intent, err)
}

func (h *Handler) decodeExecute(w http.ResponseWriter, r *http.Request) (executeRequest, bool) {
	var body executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		_ = writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body", Code: "BAD_REQUEST"})
		return executeRequest{}, false
	}
	if strings.TrimSpace(body.Button) == "" {
		_ = writeJSON(w, http.StatusBadRequest, errorBody{Error: "button is required", Code: "BAD_REQUEST"})
		return executeRequest{}, false
	}
	return body, true
}

func (b executeRequest) rowRequest(collection string) dispatch.RowRequest {
	return dispatch.RowRequest{
		Action:     b.Action,
		Collection: collection,
		Variant:    b.Variant,
		ParentID:   b.ParentID,
		ID:         b.ID,
	}
}

// data treats an explicit JSON null like an absent submission.
func (b executeRequest) data() json.RawMessage {
	if strings.TrimSpace(string(b.Data)) == "null" {
		return nil
	}
	return b.Data
}

// writeIntent answers with the flattened intent. HTMX callers also get the
// matching redirect or refresh header.
func (h *Handler) writeIntent(w http.ResponseWriter, r *http.Request, intent dispatch.Intent, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if r.Header.Get(htmxHeader) == "true" {
		switch v := intent.(type) {
		case dispatch.Navigate:
			w.Header().Set(htmxRedirectHeader, v.URI)
		case dispatch.Reload:
			w.Header().Set(htmxRefreshHeader, "true")
		}
	}
	_ = writeJSON(w, http.StatusOK, dispatch.Fields(intent))
}

func (h *Handler) relationEditor(w http.ResponseWriter, r *http.Request) {
	provider, err := h.engine.RelationEditor(r.Context(), ownerFromPath(r), parentID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer provider.Close()
	_ = writeJSON(w, http.StatusOK, snapshotOf(provider, ""))
}

func parentID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(routepath.ParentIDParam))
}

func ownerFromPath(r *http.Request) storage.Owner {
	return storage.Owner{
		Collection: r.PathValue("ownerCollection"),
		ID:         r.PathValue("ownerID"),
		Field:      r.PathValue("field"),
	}
}

func listQuery(r *http.Request) (storage.Query, error) {
	values := r.URL.Query()
	query := storage.Query{Filter: strings.TrimSpace(values.Get("filter"))}
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			return storage.Query{}, errors.New("pageSize must be a non-negative integer")
		}
		query.PageSize = size
	}
	return query, nil
}

// requestContext is r.Context with a nil-safe fallback.
func requestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}
