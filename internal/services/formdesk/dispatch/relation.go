package dispatch

import (
	"context"
	"fmt"

	"github.com/a-h/templ"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/render"
	"github.com/louisbranch/formdesk/internal/services/formdesk/routepath"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// RelationRequest addresses the entities of Collection related to, or
// available for, the owner's relation field.
type RelationRequest struct {
	Action     string
	Collection string
	Owner      storage.Owner
	ParentID   string
}

// RelationRowRequest addresses one row of a relation list.
type RelationRowRequest struct {
	RowRequest
	Owner storage.Owner
}

// planRelationList picks the config for a relation list: the read-only
// view for list and add, where add rows are pick candidates, and the
// editor for edit and new.
func planRelationList(col *collection.Collection, u usage.Usage, action string) (listPlan, error) {
	switch {
	case u == usage.List:
		if col.ListView == nil {
			return listPlan{}, missingConfig(col.Alias, action)
		}
		return listPlan{config: col.ListView, rowUsage: usage.Node | usage.Edit}, nil
	case u.Has(usage.Add):
		if col.ListView == nil {
			return listPlan{}, missingConfig(col.Alias, action)
		}
		return listPlan{config: col.ListView, rowUsage: usage.Node | usage.Pick}, nil
	case u.Has(usage.Edit) || u.Has(usage.New):
		if col.ListEditor == nil {
			return listPlan{}, missingConfig(col.Alias, action)
		}
		return listPlan{config: col.ListEditor, rowUsage: usage.Node | usage.Edit, insertNew: u.Has(usage.New)}, nil
	default:
		return listPlan{}, unsupportedList(u, action)
	}
}

// PrepareRelationList loads the owner's related entities, or for add the
// entities not yet related, after authorizing the action.
func (e *Engine) PrepareRelationList(ctx context.Context, req RelationRequest) (_ *ListContext, err error) {
	ctx, tr := e.begin(ctx, "prepare_relation_list", FamilyRelation, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()
	return e.prepareRelationList(ctx, req)
}

func (e *Engine) prepareRelationList(ctx context.Context, req RelationRequest) (*ListContext, error) {
	u, op, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	plan, err := planRelationList(col, u, req.Action)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeList(ctx, col, req.ParentID, op); err != nil {
		return nil, err
	}

	var rows []entity.Entity
	if u.Has(usage.Add) {
		rows, err = col.Repository.GetAllNonRelated(ctx, req.Owner)
	} else {
		rows, err = col.Repository.GetAllRelated(ctx, req.Owner)
	}
	if err != nil {
		return nil, storageError(err, "Owner")
	}
	return e.buildList(ctx, col, req.ParentID, u, plan, rows)
}

// RelationListView prepares the relation list and renders it.
func (e *Engine) RelationListView(ctx context.Context, req RelationRequest) (_ templ.Component, err error) {
	ctx, tr := e.begin(ctx, "relation_list_view", FamilyRelation, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()

	list, err := e.prepareRelationList(ctx, req)
	if err != nil {
		return nil, err
	}
	defer list.Close()
	return e.renderer.RenderList(ctx, render.List{Collection: list.Collection, Config: list.Config, Usage: list.Usage, Rows: list.Rows})
}

// ExecuteRelation runs a relation list button, for example New or Add.
func (e *Engine) ExecuteRelation(ctx context.Context, req RelationRequest, buttonID string, payload any) (intent Intent, err error) {
	ctx, tr := e.begin(ctx, "execute_relation", FamilyRelation, req.Action, req.Collection)
	defer func() { tr.end(intent, err) }()

	u, _, err := usage.Classify(req.Action)
	if err != nil {
		return nil, err
	}
	col, err := e.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	var buttons []button.Button
	if u.Has(usage.List) || u.Has(usage.Add) {
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
	effect := btn.CrudType(u)
	tr.button(btn, effect)

	blank, err := col.Repository.New(ctx, req.ParentID, col.Variants.Default())
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
		if u.Has(usage.List) {
			return Navigate{URI: routepath.Node(usage.ActionNew, col.Alias, target.Alias, req.ParentID, "")}, nil
		}
		return UpdateParameter{Action: usage.ActionNew, Collection: col.Alias, Variant: target.Alias, ParentID: req.ParentID}, nil
	case crud.Add:
		return UpdateParameter{Action: usage.ActionAdd, Collection: col.Alias, ParentID: req.ParentID}, nil
	case crud.None:
		return NoOperation{}, nil
	case crud.Refresh:
		return Reload{}, nil
	case crud.Return:
		return Return{}, nil
	default:
		return nil, invalidEffect(effect, FamilyRelation)
	}
}

// PrepareRelationRow builds the edit context of one relation row. Rows of
// an add list are pick candidates.
func (e *Engine) PrepareRelationRow(ctx context.Context, req RelationRowRequest) (_ *editctx.Context, err error) {
	ctx, tr := e.begin(ctx, "prepare_relation_row", FamilyRelation, req.Action, req.Collection)
	defer func() { tr.end(nil, err) }()
	return e.prepareRow(ctx, req.RowRequest, FamilyRelation)
}

// ExecuteRelationRow runs a row button of a relation list. Add and pick
// attach the row to the owner and remove detaches it. A nil ec is prepared
// from req.
func (e *Engine) ExecuteRelationRow(ctx context.Context, req RelationRowRequest, ec *editctx.Context, buttonID string, payload any) (intent Intent, err error) {
	ctx, tr := e.begin(ctx, "execute_relation_row", FamilyRelation, req.Action, req.Collection)
	defer func() { tr.end(intent, err) }()

	t, err := e.resolveRow(ctx, req.RowRequest, ec, buttonID, FamilyRelation, tr)
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
		if err := col.Repository.AddRelation(ctx, req.Owner, inserted.EntityID()); err != nil {
			return nil, storageError(err, "Owner")
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
	case crud.Add, crud.Pick:
		if err := col.Repository.AddRelation(ctx, req.Owner, req.ID); err != nil {
			return nil, storageError(err, "Owner")
		}
		return Reload{}, nil
	case crud.Remove:
		if err := col.Repository.RemoveRelation(ctx, req.Owner, req.ID); err != nil {
			return nil, storageError(err, "Owner")
		}
		return Reload{}, nil
	case crud.None:
		return NoOperation{}, nil
	case crud.Refresh:
		return Reload{}, nil
	case crud.Return:
		return Return{}, nil
	default:
		return nil, invalidEffect(effect, FamilyRelation)
	}
}

// RelationEditor returns a provider bound to the owner's relation field.
// The provider follows updates to the owner, so relation writes made
// elsewhere show up in its related ids. The caller owns the provider and
// must Close it.
func (e *Engine) RelationEditor(ctx context.Context, owner storage.Owner, parentID string) (_ *projection.Provider, err error) {
	ctx, tr := e.begin(ctx, "relation_editor", FamilyRelation, usage.ActionView, owner.Collection)
	defer func() { tr.end(nil, err) }()

	if e.projections == nil {
		return nil, apperrors.New(apperrors.CodeUnimplemented, "relation editors are disabled")
	}
	col, err := e.collection(owner.Collection)
	if err != nil {
		return nil, err
	}
	field, ok := col.Field(owner.Field)
	if !ok || field.Relation == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("collection %s has no relation field %q", col.Alias, owner.Field),
			map[string]string{"Resource": "Relation field"})
	}
	target, err := col.Repository.GetByID(ctx, owner.ID, parentID)
	if err != nil {
		return nil, storageError(err, "Owner")
	}
	if err := e.authorize(ctx, col, target, authz.OperationRead); err != nil {
		return nil, err
	}
	provider, err := e.relationProvider(field)
	if err != nil {
		return nil, err
	}
	if err := provider.SetRelationReferences(ctx, target, field.Name); err != nil {
		_ = provider.Close()
		return nil, err
	}
	if err := provider.FollowOwner(col.Repository, field.Name); err != nil {
		_ = provider.Close()
		return nil, err
	}
	return provider, nil
}
