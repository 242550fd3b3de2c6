// Package dispatch resolves UI actions against collection configuration,
// authorizes them, and applies their CRUD effect through the repository.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/editctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/render"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/louisbranch/formdesk/internal/services/formdesk/dispatch"

// Family names the entry point group of a dispatch.
type Family string

const (
	FamilyNode     Family = "node"
	FamilyList     Family = "list"
	FamilyRelation Family = "relation"
)

// Deps are the engine's collaborators.
type Deps struct {
	Collections *collection.Root
	Authorizer  authz.Authorizer
	Renderer    render.Renderer
	// Validator checks forms. Nil treats every form as valid.
	Validator editctx.Validator
	// Projections backs relation editors. Nil disables them.
	Projections *projection.Cache
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Engine is the action dispatch engine. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	collections *collection.Root
	authorizer  authz.Authorizer
	renderer    render.Renderer
	validator   editctx.Validator
	projections *projection.Cache
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New builds an engine.
func New(deps Deps) (*Engine, error) {
	if deps.Collections == nil {
		return nil, fmt.Errorf("collections are required")
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if deps.Renderer == nil {
		deps.Renderer = render.HTML{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		collections: deps.Collections,
		authorizer:  deps.Authorizer,
		renderer:    deps.Renderer,
		validator:   deps.Validator,
		projections: deps.Projections,
		logger:      deps.Logger,
		tracer:      deps.Tracer,
	}, nil
}

// Collections returns the registry the engine dispatches against.
func (e *Engine) Collections() *collection.Root {
	return e.collections
}

// dispatchTrace records one dispatch step on a span and in the debug log.
type dispatchTrace struct {
	span   trace.Span
	logger *zap.Logger
	fields []zap.Field
}

func (e *Engine) begin(ctx context.Context, name string, family Family, action, alias string) (context.Context, *dispatchTrace) {
	ctx, span := e.tracer.Start(ctx, "dispatch."+name, trace.WithAttributes(
		attribute.String("formdesk.family", string(family)),
		attribute.String("formdesk.action", action),
		attribute.String("formdesk.collection", alias),
	))
	return ctx, &dispatchTrace{
		span:   span,
		logger: e.logger,
		fields: []zap.Field{
			zap.String("op", name),
			zap.String("family", string(family)),
			zap.String("action", action),
			zap.String("collection", alias),
		},
	}
}

func (t *dispatchTrace) button(b button.Button, effect crud.Type) {
	t.span.SetAttributes(
		attribute.String("formdesk.button", b.ID),
		attribute.String("formdesk.crud", effect.String()),
	)
	t.fields = append(t.fields, zap.String("button", b.ID), zap.String("crud", effect.String()))
}

func (t *dispatchTrace) end(intent Intent, err error) {
	defer t.span.End()
	if err != nil {
		code := apperrors.CodeOf(err)
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, string(code))
		fields := append(t.fields, zap.String("code", string(code)), zap.Error(err))
		if code == apperrors.CodeUnknown {
			t.logger.Warn("dispatch failed", fields...)
		} else {
			t.logger.Info("dispatch rejected", fields...)
		}
		return
	}
	if intent != nil {
		t.span.SetAttributes(attribute.String("formdesk.intent", string(intent.Kind())))
		t.fields = append(t.fields, zap.String("intent", string(intent.Kind())))
	}
	t.logger.Debug("dispatch", t.fields...)
}

func (e *Engine) collection(alias string) (*collection.Collection, error) {
	return e.collections.Collection(alias)
}

// authorize asks the authorizer whether the request's subject may apply op
// to target.
func (e *Engine) authorize(ctx context.Context, col *collection.Collection, target entity.Entity, op authz.Operation) error {
	subject := requestctx.SubjectFromContext(ctx)
	decision, err := e.authorizer.Authorize(ctx, subject, authz.Resource{Collection: col.Alias, Entity: target}, op)
	if err != nil {
		return fmt.Errorf("authorize %s on %s: %w", op, col.Alias, err)
	}
	if !decision.Allowed {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized,
			fmt.Sprintf("%s on %s denied: %s", op, col.Alias, decision.ReasonCode),
			map[string]string{"Operation": string(op), "Collection": col.Alias, "Reason": decision.ReasonCode})
	}
	return nil
}

// authorizeEffect authorizes the operation a button's effect maps to.
func (e *Engine) authorizeEffect(ctx context.Context, col *collection.Collection, target entity.Entity, effect crud.Type) error {
	op, err := authz.OperationForCrud(effect)
	if err != nil {
		return err
	}
	return e.authorize(ctx, col, target, op)
}

func missingConfig(alias, action string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("collection %s has no UI configuration for action %s", alias, action),
		map[string]string{"Resource": "UI configuration"})
}

func invalidEffect(effect crud.Type, family Family) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidOperation,
		fmt.Sprintf("crud effect %s is not handled by %s actions", effect, family),
		map[string]string{"Crud": effect.String()})
}

func invalidForm(ec *editctx.Context) error {
	metadata := map[string]string{"Resource": "Form"}
	for field, msg := range ec.Errors() {
		metadata["field."+field] = msg
	}
	return apperrors.WithMetadata(apperrors.CodeInvalidEntity, "form is invalid", metadata)
}

// storageError translates repository sentinels into domain errors.
func storageError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WrapWithMetadata(apperrors.CodeNotFound, resource+" not found",
			map[string]string{"Resource": resource}, err)
	case errors.Is(err, storage.ErrInvalidQuery):
		return apperrors.Wrap(apperrors.CodeInvalidShape, "invalid list query", err)
	default:
		return err
	}
}

// prelude applies the steps shared by every button effect: authorize the
// effect's operation, validate when the button requires it, collect the
// relation references, and run the custom handler.
func (e *Engine) prelude(ctx context.Context, col *collection.Collection, ec *editctx.Context, btn button.Button, effect crud.Type, parentID, id string, payload any) (relation.Container, error) {
	if err := e.authorizeEffect(ctx, col, ec.Entity, effect); err != nil {
		return relation.Container{}, err
	}
	if btn.RequiresValidForm && !ec.IsValid() {
		return relation.Container{}, invalidForm(ec)
	}
	rels, err := ec.RelationContainer()
	if err != nil {
		return relation.Container{}, err
	}
	if btn.Custom() {
		if err := btn.Handler.HandleAction(ctx, parentID, id, payload); err != nil {
			return relation.Container{}, err
		}
	}
	return rels, nil
}
