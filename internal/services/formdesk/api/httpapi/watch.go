package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/louisbranch/formdesk/internal/platform/timeouts"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
)

const (
	frameSnapshot    = "snapshot"
	frameDataChanged = "data_changed"
	framePing        = "ping"

	writeTimeout = 10 * time.Second
)

type elementView struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
}

// relationSnapshot is the relation editor payload, and the frame pushed on
// every change of the underlying collection.
type relationSnapshot struct {
	Type       string        `json:"type,omitempty"`
	Available  []elementView `json:"available"`
	Related    []elementView `json:"related"`
	RelatedIDs []string      `json:"relatedIds"`
}

func snapshotOf(p *projection.Provider, frame string) relationSnapshot {
	ids := p.RelatedIDs()
	if ids == nil {
		ids = []string{}
	}
	return relationSnapshot{
		Type:       frame,
		Available:  elementViews(p.AvailableElements()),
		Related:    elementViews(p.CurrentRelatedElements()),
		RelatedIDs: ids,
	}
}

func elementViews(elements []relation.Element) []elementView {
	out := make([]elementView, 0, len(elements))
	for _, el := range elements {
		out = append(out, elementView{ID: el.ID, Labels: el.Labels})
	}
	return out
}

// relationWatch streams relation editor snapshots over a websocket. The
// editor is resolved before the upgrade so lookup and authorization
// failures still answer with a status code.
func (h *Handler) relationWatch(w http.ResponseWriter, r *http.Request) {
	provider, err := h.engine.RelationEditor(r.Context(), ownerFromPath(r), parentID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer provider.Close()

	websocket.Handler(func(conn *websocket.Conn) {
		h.streamRelation(conn, provider)
	}).ServeHTTP(w, r)
}

func (h *Handler) streamRelation(conn *websocket.Conn, provider *projection.Provider) {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	changed := make(chan struct{}, 1)
	sub := provider.DataChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	// Incoming frames are ignored; a read error means the client left.
	go func() {
		defer cancel()
		for {
			var discard string
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.JSON.Send(conn, v); err != nil {
			h.logger.Debug("relation watch closed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(snapshotOf(provider, frameSnapshot)) {
		return
	}
	ticker := time.NewTicker(timeouts.WatchPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if !send(snapshotOf(provider, frameDataChanged)) {
				return
			}
		case <-ticker.C:
			if !send(relationSnapshot{Type: framePing}) {
				return
			}
		}
	}
}
