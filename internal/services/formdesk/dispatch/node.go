package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/a-h/templ"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/render"
	"github.com/louisbranch/formdesk/internal/services/formdesk/routepath"
)

// NodeRequest addresses a single entity.
type NodeRequest struct {
	Action     string
	Collection string
	// Variant selects the variant of a new entity. Existing entities are
	// classified from their data.
	Variant  string
	ParentID string
	ID       string
}

// PrepareNode loads the entity for view and edit actions, or builds a
// fresh one for new, authorizes the action, and returns its edit context.
// Callers must Close the context when relation editors were bound.
func (e *Engine) PrepareNode(ctx context.Context, req NodeRequest) (_ *editctx.Context, err error) {
	ctx, tr := e.begin(ctx, "prepare_node", FamilyNode, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()
	return e.prepareNode(ctx, req)
}

func (e *Engine) prepareNode(ctx context.Context, req NodeRequest) (*editctx.Context, error) {
	actionUsage, op, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	u := usage.Node | actionUsage
	cfg := nodeConfig(col, u)
	if collection.IsNil(cfg) {
		return nil, missingConfig(col.Alias, req.Action)
	}

	var (
		target  entity.Entity
		variant entity.Variant
	)
	if u.Has(usage.New) {
		if variant, err = col.Variants.Resolve(req.Variant); err != nil {
			return nil, err
		}
		if target, err = col.Repository.New(ctx, req.ParentID, variant); err != nil {
			return nil, err
		}
	} else {
		target, err = col.Repository.GetByID(ctx, req.ID, req.ParentID)
		if err != nil {
			return nil, storageError(err, "Entity")
		}
		if target == nil {
			return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
				fmt.Sprintf("entity %q not found", req.ID), map[string]string{"Resource": "Entity"})
		}
		variant = col.Variants.Of(target)
	}

	if err := e.authorize(ctx, col, target, op); err != nil {
		return nil, err
	}

	ec := editctx.New(target, variant, u, cfg, e.validator)
	if err := e.bindRelations(ctx, ec); err != nil {
		_ = ec.Close()
		return nil, err
	}
	return ec, nil
}

// NodeView prepares the node and renders it.
func (e *Engine) NodeView(ctx context.Context, req NodeRequest) (_ templ.Component, err error) {
	ctx, tr := e.begin(ctx, "node_view", FamilyNode, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()

	ec, err := e.prepareNode(ctx, req)
	if err != nil {
		return nil, err
	}
	defer ec.Close()
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	return e.renderer.RenderNode(ctx, render.Node{Collection: col, Context: ec})
}

// ExecuteNode runs the button buttonID against the node. A nil ec is
// prepared from req.
func (e *Engine) ExecuteNode(ctx context.Context, req NodeRequest, ec *editctx.Context, buttonID string, payload any) (intent Intent, err error) {
	ctx, tr := e.begin(ctx, "execute_node", FamilyNode, req.Action, req.Collection)
	defer func() { tr.end(intent, err) }()

	actionUsage, _, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	if ec == nil {
		if ec, err = e.prepareNode(ctx, req); err != nil {
			return nil, err
		}
		defer ec.Close()
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	u := usage.Node | actionUsage
	cfg := nodeConfig(col, u)
	if collection.IsNil(cfg) {
		return nil, missingConfig(col.Alias, req.Action)
	}
	btn, err := button.Find(slices.Concat(cfg.TopButtons(), cfg.PaneButtons()), buttonID)
	if err != nil {
		return nil, err
	}
	effect := btn.CrudType(u)
	tr.button(btn, effect)

	id := req.ID
	if id == "" && ec.Entity != nil {
		id = ec.Entity.EntityID()
	}
	rels, err := e.prelude(ctx, col, ec, btn, effect, req.ParentID, id, payload)
	if err != nil {
		return nil, err
	}

	variant := ec.Variant.Alias
	switch effect {
	case crud.View:
		return Navigate{URI: routepath.Node(usage.ActionView, col.Alias, variant, req.ParentID, id)}, nil
	case crud.Read:
		return Navigate{URI: routepath.Node(usage.ActionEdit, col.Alias, variant, req.ParentID, id)}, nil
	case crud.Update:
		if err := col.Repository.Update(ctx, id, req.ParentID, ec.Entity, rels); err != nil {
			return nil, storageError(err, "Entity")
		}
		return Reload{}, nil
	case crud.Insert:
		inserted, err := col.Repository.Insert(ctx, req.ParentID, ec.Entity, rels)
		if err != nil {
			return nil, storageError(err, "Entity")
		}
		return Navigate{URI: routepath.Node(usage.ActionEdit, col.Alias, variant, req.ParentID, inserted.EntityID())}, nil
	case crud.Delete:
		if err := col.Repository.Delete(ctx, id, req.ParentID); err != nil {
			return nil, storageError(err, "Entity")
		}
		return Navigate{URI: routepath.Collection(usage.ActionList, col.Alias, req.ParentID)}, nil
	case crud.None:
		return NoOperation{}, nil
	case crud.Refresh:
		return Reload{}, nil
	case crud.Return:
		return nil, apperrors.WithMetadata(apperrors.CodeUnimplemented,
			"return is not supported for node actions", map[string]string{"Crud": effect.String()})
	default:
		return nil, invalidEffect(effect, FamilyNode)
	}
}

// BindSubmission merges submitted JSON object fields into the context's
// document and rebinds its relation editors to the merged values. Fields
// missing from data are left as loaded.
func (e *Engine) BindSubmission(ctx context.Context, ec *editctx.Context, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	doc, ok := ec.Entity.(*entity.Document)
	if !ok {
		return apperrors.New(apperrors.CodeInvalidShape,
			fmt.Sprintf("entity of type %T does not accept submitted fields", ec.Entity))
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return apperrors.New(apperrors.CodeInvalidShape, "submitted data must be a JSON object")
	}
	merged := doc.Clone()
	if len(merged.Data) == 0 {
		merged.Data = json.RawMessage("{}")
	}
	var setErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		updated, err := sjson.SetRawBytes(merged.Data, escapePath(key.String()), []byte(value.Raw))
		if err != nil {
			setErr = fmt.Errorf("bind field %s: %w", key.String(), err)
			return false
		}
		merged.Data = updated
		return true
	})
	if setErr != nil {
		return setErr
	}
	ec.SetEntity(merged)

	for _, f := range collection.RelationFields(ec.Config, ec.Variant) {
		src, ok := ec.Relation(f.Name)
		if !ok {
			continue
		}
		provider, ok := src.(*projection.Provider)
		if !ok {
			continue
		}
		if err := provider.SetRelationReferences(ctx, merged, f.Name); err != nil {
			return err
		}
	}
	return nil
}

// nodeConfig picks the node view for view usages and the editor otherwise.
func nodeConfig(col *collection.Collection, u usage.Usage) collection.UIConfig {
	if u.Has(usage.View) {
		return col.NodeView
	}
	return col.NodeEditor
}

// bindRelations attaches one projection provider per relation field of the
// context's panes so the relation container follows the editors.
func (e *Engine) bindRelations(ctx context.Context, ec *editctx.Context) error {
	if e.projections == nil {
		return nil
	}
	for _, f := range collection.RelationFields(ec.Config, ec.Variant) {
		provider, err := e.relationProvider(f)
		if err != nil {
			return err
		}
		ec.RegisterRelation(f.Name, provider)
		if err := provider.SetRelationReferences(ctx, ec.Entity, f.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) relationProvider(f collection.Field) (*projection.Provider, error) {
	target, err := e.collection(f.Relation.Collection)
	if err != nil {
		return nil, err
	}
	opts := projection.Options{Labels: f.Relation.Labels, Logger: e.logger}
	if parentField := f.Relation.ParentField; parentField != "" {
		opts.ParentIDOf = func(owner entity.Entity) string {
			doc, ok := owner.(*entity.Document)
			if !ok {
				return ""
			}
			return doc.Field(parentField).String()
		}
	}
	return projection.NewProvider(e.projections, target.Repository, opts), nil
}

// escapePath quotes gjson path syntax in a literal key.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
