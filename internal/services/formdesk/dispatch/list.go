package dispatch

import (
	"context"

	"github.com/a-h/templ"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/render"
	"github.com/louisbranch/formdesk/internal/services/formdesk/routepath"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// ListRequest addresses a collection scope.
type ListRequest struct {
	Action     string
	Collection string
	ParentID   string
	Query      storage.Query
}

// RowRequest addresses one row of a list. An empty ID is the new-entity
// row.
type RowRequest struct {
	Action     string
	Collection string
	Variant    string
	ParentID   string
	ID         string
}

// ListContext is a prepared list: its config, usage, and one edit context
// per row.
type ListContext struct {
	Collection *collection.Collection
	Config     collection.UIConfig
	Usage      usage.Usage
	Rows       []*editctx.Context
}

// Close releases every row context.
func (l *ListContext) Close() error {
	var first error
	for _, row := range l.Rows {
		if err := row.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// listPlan is the config and row usage chosen for a list usage.
type listPlan struct {
	config    collection.UIConfig
	rowUsage  usage.Usage
	insertNew bool
}

// planCollectionList picks the list config for u: the read-only view for a
// plain list, the editor for edit and new with a blank row heading a new
// list.
func planCollectionList(col *collection.Collection, u usage.Usage, action string) (listPlan, error) {
	switch {
	case u == usage.List:
		if col.ListView == nil {
			return listPlan{}, missingConfig(col.Alias, action)
		}
		return listPlan{config: col.ListView, rowUsage: usage.Node | usage.Edit}, nil
	case u.Has(usage.Edit) || u.Has(usage.New):
		if col.ListEditor == nil {
			return listPlan{}, missingConfig(col.Alias, action)
		}
		return listPlan{config: col.ListEditor, rowUsage: usage.Node | usage.Edit, insertNew: u.Has(usage.New)}, nil
	default:
		return listPlan{}, unsupportedList(u, action)
	}
}

func unsupportedList(u usage.Usage, action string) error {
	return apperrors.WithMetadata(apperrors.CodeUnimplemented,
		"list usage "+u.String()+" is not supported",
		map[string]string{"Action": action})
}

// PrepareList authorizes the list action and loads every row in scope.
func (e *Engine) PrepareList(ctx context.Context, req ListRequest) (_ *ListContext, err error) {
	ctx, tr := e.begin(ctx, "prepare_list", FamilyList, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()
	return e.prepareList(ctx, req)
}

func (e *Engine) prepareList(ctx context.Context, req ListRequest) (*ListContext, error) {
	actionUsage, op, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	u := usage.List | actionUsage
	plan, err := planCollectionList(col, u, req.Action)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeList(ctx, col, req.ParentID, op); err != nil {
		return nil, err
	}

	query := req.Query
	if query.PageSize == 0 {
		query.PageSize = pageSize(plan.config)
	}
	rows, err := col.Repository.GetAll(ctx, req.ParentID, query)
	if err != nil {
		return nil, storageError(err, "Collection")
	}
	return e.buildList(ctx, col, req.ParentID, u, plan, rows)
}

// authorizeList checks op against a synthetic new entity of the default
// variant, standing in for the collection scope.
func (e *Engine) authorizeList(ctx context.Context, col *collection.Collection, parentID string, op authz.Operation) error {
	blank, err := col.Repository.New(ctx, parentID, col.Variants.Default())
	if err != nil {
		return err
	}
	return e.authorize(ctx, col, blank, op)
}

func (e *Engine) buildList(ctx context.Context, col *collection.Collection, parentID string, u usage.Usage, plan listPlan, rows []entity.Entity) (*ListContext, error) {
	list := &ListContext{Collection: col, Config: plan.config, Usage: u}
	if plan.insertNew {
		variant := col.Variants.Default()
		fresh, err := col.Repository.New(ctx, parentID, variant)
		if err != nil {
			return nil, err
		}
		list.Rows = append(list.Rows, editctx.New(fresh, variant, usage.Node|usage.New, plan.config, e.validator))
	}
	for _, row := range rows {
		list.Rows = append(list.Rows, editctx.New(row, col.Variants.Of(row), plan.rowUsage, plan.config, e.validator))
	}
	return list, nil
}

func pageSize(cfg collection.UIConfig) int {
	switch c := cfg.(type) {
	case *collection.ListViewConfig:
		return c.PageSize
	case *collection.ListEditorConfig:
		return c.PageSize
	default:
		return 0
	}
}

// CollectionListView prepares the list and renders it.
func (e *Engine) CollectionListView(ctx context.Context, req ListRequest) (_ templ.Component, err error) {
	ctx, tr := e.begin(ctx, "collection_list_view", FamilyList, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()

	list, err := e.prepareList(ctx, req)
	if err != nil {
		return nil, err
	}
	defer list.Close()
	return e.renderer.RenderList(ctx, render.List{Collection: list.Collection, Config: list.Config, Usage: list.Usage, Rows: list.Rows})
}

// ExecuteList runs a collection-level button, for example New.
func (e *Engine) ExecuteList(ctx context.Context, req ListRequest, buttonID string, payload any) (intent Intent, err error) {
	ctx, tr := e.begin(ctx, "execute_list", FamilyList, req.Action, req.Collection)
	defer func() { tr.end(intent, err) }()

	actionUsage, _, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	var buttons []button.Button
	if actionUsage.Has(usage.List) {
		if col.ListView == nil {
			return nil, missingConfig(col.Alias, req.Action)
		}
		buttons = col.ListView.Buttons
	} else {
		if col.ListEditor == nil {
			return nil, missingConfig(col.Alias, req.Action)
		}
		buttons = col.ListEditor.Buttons
	}
	btn, err := button.Find(buttons, buttonID)
	if err != nil {
		return nil, err
	}
	u := usage.List | actionUsage
	effect := btn.CrudType(u)
	tr.button(btn, effect)

	variant := col.Variants.Default()
	blank, err := col.Repository.New(ctx, req.ParentID, variant)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeEffect(ctx, col, blank, effect); err != nil {
		return nil, err
	}
	if btn.Custom() {
		if err := btn.Handler.HandleAction(ctx, req.ParentID, "", payload); err != nil {
			return nil, err
		}
	}

	switch effect {
	case crud.Create:
		target, err := createVariant(btn)
		if err != nil {
			return nil, err
		}
		if actionUsage.Has(usage.List) {
			return Navigate{URI: routepath.Node(usage.ActionNew, col.Alias, target.Alias, req.ParentID, "")}, nil
		}
		return UpdateParameter{Action: usage.ActionNew, Collection: col.Alias, Variant: target.Alias, ParentID: req.ParentID}, nil
	case crud.None:
		return NoOperation{}, nil
	case crud.Refresh:
		return Reload{}, nil
	case crud.Return:
		return Return{}, nil
	default:
		return nil, invalidEffect(effect, FamilyList)
	}
}

// createVariant reads the target variant a Create button carries.
func createVariant(btn button.Button) (entity.Variant, error) {
	v, ok := btn.Metadata.(entity.Variant)
	if !ok || v.Alias == "" {
		return entity.Variant{}, apperrors.WithMetadata(apperrors.CodeInvalidOperation,
			"create button "+btn.ID+" has no target variant",
			map[string]string{"Button": btn.ID})
	}
	return v, nil
}

// PrepareListRow builds the edit context of one list row.
func (e *Engine) PrepareListRow(ctx context.Context, req RowRequest) (_ *editctx.Context, err error) {
	ctx, tr := e.begin(ctx, "prepare_list_row", FamilyList, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()
	return e.prepareRow(ctx, req, FamilyList)
}

// rowConfig returns the config whose panes render rows of the list usage.
func rowConfig(col *collection.Collection, listUsage usage.Usage, family Family) collection.UIConfig {
	readOnly := listUsage == usage.List
	if family == FamilyRelation {
		readOnly = listUsage.Has(usage.List) || listUsage.Has(usage.Add)
	}
	if readOnly {
		return col.ListView
	}
	return col.ListEditor
}

func (e *Engine) prepareRow(ctx context.Context, req RowRequest, family Family) (*editctx.Context, error) {
	actionUsage, op, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	listUsage := usage.List | actionUsage
	if family == FamilyRelation {
		listUsage = actionUsage
	}
	cfg := rowConfig(col, listUsage, family)
	if collection.IsNil(cfg) {
		return nil, missingConfig(col.Alias, req.Action)
	}

	var (
		target  entity.Entity
		variant entity.Variant
		u       usage.Usage
	)
	switch {
	case req.ID == "":
		u = usage.Node | usage.New
		if variant, err = col.Variants.Resolve(req.Variant); err != nil {
			return nil, err
		}
		if target, err = col.Repository.New(ctx, req.ParentID, variant); err != nil {
			return nil, err
		}
	default:
		u = usage.Node | usage.Edit
		if listUsage.Has(usage.Add) {
			u = usage.Node | usage.Pick
		}
		if target, err = col.Repository.GetByID(ctx, req.ID, req.ParentID); err != nil {
			return nil, storageError(err, "Entity")
		}
		variant = col.Variants.Of(target)
	}
	if err := e.authorize(ctx, col, target, op); err != nil {
		return nil, err
	}
	return editctx.New(target, variant, u, cfg, e.validator), nil
}

// ExecuteListRow runs a row button of a list. A nil ec is prepared from
// req.
func (e *Engine) ExecuteListRow(ctx context.Context, req RowRequest, ec *editctx.Context, buttonID string, payload any) (intent Intent, err error) {
	ctx, tr := e.begin(ctx, "execute_list_row", FamilyList, req.Action, req.Collection)
	defer func() { tr.end(intent, err) }()

	t, err := e.resolveRow(ctx, req, ec, buttonID, FamilyList, tr)
	if err != nil {
		return nil, err
	}
	defer t.close()
	col, ec, effect := t.col, t.ec, t.effect
	rels, err := e.prelude(ctx, col, ec, t.btn, effect, req.ParentID, req.ID, payload)
	if err != nil {
		return nil, err
	}

	variant := ec.Variant.Alias
	switch effect {
	case crud.View:
		return Navigate{URI: routepath.Node(usage.ActionView, col.Alias, variant, req.ParentID, req.ID)}, nil
	case crud.Read:
		return Navigate{URI: routepath.Node(usage.ActionEdit, col.Alias, variant, req.ParentID, req.ID)}, nil
	case crud.Update:
		if err := col.Repository.Update(ctx, req.ID, req.ParentID, ec.Entity, rels); err != nil {
			return nil, storageError(err, "Entity")
		}
		return Reload{}, nil
	case crud.Insert:
		inserted, err := col.Repository.Insert(ctx, req.ParentID, ec.Entity, rels)
		if err != nil {
			return nil, storageError(err, "Entity")
		}
		return UpdateParameter{
			Action: usage.ActionNew, Collection: col.Alias, Variant: variant,
			ParentID: req.ParentID, ID: inserted.EntityID(),
		}, nil
	case crud.Delete:
		if err := col.Repository.Delete(ctx, req.ID, req.ParentID); err != nil {
			return nil, storageError(err, "Entity")
		}
		return Reload{}, nil
	case crud.None:
		return NoOperation{}, nil
	case crud.Refresh:
		return Reload{}, nil
	case crud.Return:
		return Return{}, nil
	default:
		return nil, invalidEffect(effect, FamilyList)
	}
}

// rowTarget is a resolved row dispatch: the row's context and the pressed
// button.
type rowTarget struct {
	col    *collection.Collection
	ec     *editctx.Context
	btn    button.Button
	effect crud.Type
	owned  bool
}

func (t *rowTarget) close() {
	if t.owned {
		_ = t.ec.Close()
	}
}

// resolveRow prepares the row context when the caller has none and finds
// the pressed button among the row panes of the action's list config.
func (e *Engine) resolveRow(ctx context.Context, req RowRequest, ec *editctx.Context, buttonID string, family Family, tr *dispatchTrace) (*rowTarget, error) {
	actionUsage, _, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	listUsage := usage.List | actionUsage
	if family == FamilyRelation {
		listUsage = actionUsage
	}
	cfg := rowConfig(col, listUsage, family)
	if collection.IsNil(cfg) {
		return nil, missingConfig(col.Alias, req.Action)
	}
	btn, err := button.Find(cfg.PaneButtons(), buttonID)
	if err != nil {
		return nil, err
	}

	t := &rowTarget{col: col, ec: ec, btn: btn}
	if ec == nil {
		if t.ec, err = e.prepareRow(ctx, req, family); err != nil {
			return nil, err
		}
		t.owned = true
	}
	t.effect = btn.CrudType(t.ec.Usage)
	tr.button(btn, t.effect)
	return t, nil
}
