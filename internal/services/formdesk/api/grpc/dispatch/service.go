// Package dispatch exposes the dispatch engine as formdesk.v1.DispatchService.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/platform/errors/i18n"
	"github.com/louisbranch/formdesk/internal/platform/logging"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	engine "github.com/louisbranch/formdesk/internal/services/formdesk/dispatch"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/relation"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
)

// Families accepted in the request's family field.
const (
	FamilyNode        = "node"
	FamilyList        = "list"
	FamilyListRow     = "list_row"
	FamilyRelation    = "relation"
	FamilyRelationRow = "relation_row"
)

// Service implements DispatchServiceServer over the dispatch engine.
type Service struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewService creates a dispatch service.
func NewService(e *engine.Engine, logger *zap.Logger) *Service {
	return &Service{engine: e, logger: logging.OrNop(logger)}
}

// request is the decoded Execute input.
type request struct {
	family     string
	action     string
	collection string
	variant    string
	parentID   string
	id         string
	button     string
	owner      storage.Owner
	data       json.RawMessage
	payload    any
}

// Execute runs one button. The response carries the intent kind and its
// parameters.
func (s *Service) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "execute request is required")
	}
	if s == nil || s.engine == nil {
		return nil, status.Error(codes.Internal, "dispatch engine is not configured")
	}
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}

	var intent engine.Intent
	switch req.family {
	case FamilyNode:
		intent, err = s.executeNode(ctx, req)
	case FamilyList:
		intent, err = s.engine.ExecuteList(ctx, engine.ListRequest{
			Action: req.action, Collection: req.collection, ParentID: req.parentID,
		}, req.button, req.payload)
	case FamilyListRow:
		intent, err = s.executeListRow(ctx, req)
	case FamilyRelation:
		intent, err = s.engine.ExecuteRelation(ctx, engine.RelationRequest{
			Action: req.action, Collection: req.collection, Owner: req.owner, ParentID: req.parentID,
		}, req.button, req.payload)
	case FamilyRelationRow:
		intent, err = s.executeRelationRow(ctx, req)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown family %q", req.family)
	}
	if err != nil {
		return nil, s.statusError(ctx, err)
	}

	fields := engine.Fields(intent)
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return structpb.NewStruct(out)
}

func (s *Service) executeNode(ctx context.Context, req request) (engine.Intent, error) {
	nodeReq := engine.NodeRequest{
		Action: req.action, Collection: req.collection, Variant: req.variant,
		ParentID: req.parentID, ID: req.id,
	}
	ec, err := s.engine.PrepareNode(ctx, nodeReq)
	if err != nil {
		return nil, err
	}
	defer ec.Close()
	if err := s.engine.BindSubmission(ctx, ec, req.data); err != nil {
		return nil, err
	}
	return s.engine.ExecuteNode(ctx, nodeReq, ec, req.button, req.payload)
}

func (s *Service) executeListRow(ctx context.Context, req request) (engine.Intent, error) {
	rowReq := req.rowRequest()
	ec, err := s.engine.PrepareListRow(ctx, rowReq)
	if err != nil {
		return nil, err
	}
	defer ec.Close()
	if err := s.engine.BindSubmission(ctx, ec, req.data); err != nil {
		return nil, err
	}
	return s.engine.ExecuteListRow(ctx, rowReq, ec, req.button, req.payload)
}

func (s *Service) executeRelationRow(ctx context.Context, req request) (engine.Intent, error) {
	rowReq := engine.RelationRowRequest{RowRequest: req.rowRequest(), Owner: req.owner}
	ec, err := s.engine.PrepareRelationRow(ctx, rowReq)
	if err != nil {
		return nil, err
	}
	defer ec.Close()
	if err := s.engine.BindSubmission(ctx, ec, req.data); err != nil {
		return nil, err
	}
	return s.engine.ExecuteRelationRow(ctx, rowReq, ec, req.button, req.payload)
}

// RelationEditor returns the available and related elements of an owner's
// relation field.
func (s *Service) RelationEditor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "relation editor request is required")
	}
	if s == nil || s.engine == nil {
		return nil, status.Error(codes.Internal, "dispatch engine is not configured")
	}
	fields := in.GetFields()
	owner, ok := ownerOf(fields)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "owner collection, id and field are required")
	}
	provider, err := s.engine.RelationEditor(ctx, owner, stringField(fields, "parentId"))
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	defer provider.Close()
	return structpb.NewStruct(editorSnapshot(provider))
}

func editorSnapshot(p *projection.Provider) map[string]any {
	elements := func(els []relation.Element) []any {
		out := make([]any, 0, len(els))
		for _, el := range els {
			labels := make([]any, 0, len(el.Labels))
			for _, l := range el.Labels {
				labels = append(labels, l)
			}
			out = append(out, map[string]any{"id": el.ID, "labels": labels})
		}
		return out
	}
	ids := make([]any, 0)
	for _, id := range p.RelatedIDs() {
		ids = append(ids, id)
	}
	return map[string]any{
		"available":  elements(p.AvailableElements()),
		"related":    elements(p.CurrentRelatedElements()),
		"relatedIds": ids,
	}
}

// statusError converts a domain error into a gRPC status carrying a
// message localized for the caller.
func (s *Service) statusError(ctx context.Context, err error) error {
	domainErr := apperrors.As(err)
	catalog := i18n.GetCatalog(requestctx.LocaleFromContext(ctx))
	if domainErr.Code.GRPCCode() == codes.Internal {
		s.logger.Error("dispatch failed", zap.Error(err))
	}
	return domainErr.ToGRPCStatus(catalog.Locale(), catalog.Format(string(domainErr.Code), domainErr.Metadata))
}

func decodeRequest(in *structpb.Struct) (request, error) {
	fields := in.GetFields()
	req := request{
		family:     stringField(fields, "family"),
		action:     stringField(fields, "action"),
		collection: stringField(fields, "collection"),
		variant:    stringField(fields, "variant"),
		parentID:   stringField(fields, "parentId"),
		id:         stringField(fields, "id"),
		button:     stringField(fields, "button"),
	}
	if req.button == "" {
		return request{}, status.Error(codes.InvalidArgument, "button is required")
	}
	if req.collection == "" {
		return request{}, status.Error(codes.InvalidArgument, "collection is required")
	}
	if req.family == FamilyRelation || req.family == FamilyRelationRow {
		owner, ok := ownerOf(fields)
		if !ok {
			return request{}, status.Error(codes.InvalidArgument, "owner collection, id and field are required")
		}
		req.owner = owner
	}
	if data := fields["data"]; data != nil {
		if _, isNull := data.GetKind().(*structpb.Value_NullValue); !isNull {
			raw, err := protojson.Marshal(data)
			if err != nil {
				return request{}, status.Errorf(codes.InvalidArgument, "encode data: %v", err)
			}
			req.data = raw
		}
	}
	if payload := fields["payload"]; payload != nil {
		req.payload = payload.AsInterface()
	}
	return req, nil
}

func (r request) rowRequest() engine.RowRequest {
	return engine.RowRequest{
		Action: r.action, Collection: r.collection, Variant: r.variant,
		ParentID: r.parentID, ID: r.id,
	}
}

func ownerOf(fields map[string]*structpb.Value) (storage.Owner, bool) {
	ownerFields := fields["owner"].GetStructValue().GetFields()
	owner := storage.Owner{
		Collection: stringField(ownerFields, "collection"),
		ID:         stringField(ownerFields, "id"),
		Field:      stringField(ownerFields, "field"),
	}
	return owner, owner.Collection != "" && owner.ID != "" && owner.Field != ""
}

func stringField(fields map[string]*structpb.Value, key string) string {
	return strings.TrimSpace(fields[key].GetStringValue())
}
