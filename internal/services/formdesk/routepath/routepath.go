// Package routepath stores canonical HTTP paths for the formdesk surface.
package routepath

import (
	"net/url"
	"strings"
)

const (
	Health                 = "/up"
	NodePrefix             = "/node/"
	NodeNewPattern         = NodePrefix + "{action}/{collection}/{variant}"
	NodePattern            = NodePrefix + "{action}/{collection}/{variant}/{id}"
	CollectionPrefix       = "/collection/"
	CollectionPattern      = CollectionPrefix + "{action}/{collection}"
	RelationPrefix         = "/relation/"
	RelationPattern        = RelationPrefix + "{action}/{collection}/{ownerCollection}/{ownerID}/{field}"
	APIPrefix              = "/api/"
	NodeExecutePattern     = APIPrefix + "node/{collection}/{variant}/execute"
	ListExecutePattern     = APIPrefix + "collection/{collection}/execute"
	RelationExecutePattern = APIPrefix + "relation/{collection}/execute"
	RelationEditorPrefix   = APIPrefix + "relation-editor/"
	RelationEditorPattern  = RelationEditorPrefix + "{ownerCollection}/{ownerID}/{field}"
	RelationWatchPattern   = RelationEditorPattern + "/watch"

	// ParentIDParam carries the parent scope in query strings.
	ParentIDParam = "parentId"
)

// Node returns the route of a single-entity view or editor. An empty id
// addresses the New form.
func Node(action, collection, variant, parentID, id string) string {
	path := NodePrefix + escapeSegment(action) + "/" + escapeSegment(collection) + "/" + escapeSegment(variant)
	if id != "" {
		path += "/" + escapeSegment(id)
	}
	return withParent(path, parentID)
}

// Collection returns the route of a collection list.
func Collection(action, collection, parentID string) string {
	return withParent(CollectionPrefix+escapeSegment(action)+"/"+escapeSegment(collection), parentID)
}

// Relation returns the route of a relation list for an owner's field.
func Relation(action, collection, ownerCollection, ownerID, field string) string {
	return RelationPrefix + escapeSegment(action) + "/" + escapeSegment(collection) + "/" +
		escapeSegment(ownerCollection) + "/" + escapeSegment(ownerID) + "/" + escapeSegment(field)
}

// RelationEditor returns the relation editor data route.
func RelationEditor(ownerCollection, ownerID, field string) string {
	return RelationEditorPrefix + escapeSegment(ownerCollection) + "/" + escapeSegment(ownerID) + "/" + escapeSegment(field)
}

// RelationWatch returns the relation editor change stream route.
func RelationWatch(ownerCollection, ownerID, field string) string {
	return RelationEditor(ownerCollection, ownerID, field) + "/watch"
}

func withParent(path, parentID string) string {
	if strings.TrimSpace(parentID) == "" {
		return path
	}
	return path + "?" + url.Values{ParentIDParam: []string{parentID}}.Encode()
}

func escapeSegment(value string) string {
	return url.PathEscape(strings.TrimSpace(value))
}
