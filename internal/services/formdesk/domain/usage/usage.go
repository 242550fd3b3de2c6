// Package usage classifies where and how an action is invoked.
package usage

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
)

// Usage is a set of context flags. Single flags are Usage values with one
// bit set; combine them with Union or the | operator.
type Usage uint8

const (
	List Usage = 1 << iota
	Node
	Add
	New
	Edit
	View
	Pick
)

// Action names accepted by the dispatch surface.
const (
	ActionEdit = "edit"
	ActionNew  = "new"
	ActionAdd  = "add"
	ActionView = "view"
	ActionList = "list"
	ActionPick = "pick"
)

var flagNames = []struct {
	flag Usage
	name string
}{
	{List, "List"},
	{Node, "Node"},
	{Add, "Add"},
	{New, "New"},
	{Edit, "Edit"},
	{View, "View"},
	{Pick, "Pick"},
}

// Actions returns every supported action name.
func Actions() []string {
	return []string{ActionEdit, ActionNew, ActionAdd, ActionView, ActionList, ActionPick}
}

// Of builds a usage from flags.
func Of(flags ...Usage) Usage {
	var u Usage
	for _, f := range flags {
		u |= f
	}
	return u
}

// Union returns the set containing the flags of both u and other.
func (u Usage) Union(other Usage) Usage {
	return u | other
}

// Has reports whether every flag of other is set in u.
func (u Usage) Has(other Usage) bool {
	return other != 0 && u&other == other
}

// Empty reports whether no flag is set.
func (u Usage) Empty() bool {
	return u == 0
}

// Flags returns the single flags set in u, in declaration order.
func (u Usage) Flags() []Usage {
	var out []Usage
	for _, fn := range flagNames {
		if u&fn.flag != 0 {
			out = append(out, fn.flag)
		}
	}
	return out
}

// String renders the set as Flag|Flag, or "None" when empty.
func (u Usage) String() string {
	if u == 0 {
		return "None"
	}
	var parts []string
	for _, fn := range flagNames {
		if u&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// FromAction maps an action name to its usage flag. Unknown actions yield
// the empty usage.
func FromAction(action string) Usage {
	switch action {
	case ActionEdit:
		return Edit
	case ActionNew:
		return New
	case ActionAdd:
		return Add
	case ActionView:
		return View
	case ActionList:
		return List
	case ActionPick:
		return Pick
	default:
		return 0
	}
}

// OperationForAction maps an action name to the operation authorized when
// the action's view is prepared. Unknown actions fail so they can never
// skip authorization.
func OperationForAction(action string) (authz.Operation, error) {
	switch action {
	case ActionEdit:
		return authz.OperationUpdate, nil
	case ActionNew:
		return authz.OperationCreate, nil
	case ActionAdd:
		return authz.OperationAdd, nil
	case ActionView:
		return authz.OperationView, nil
	case ActionList:
		return authz.OperationList, nil
	case ActionPick:
		return authz.OperationPick, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeUnimplemented,
			fmt.Sprintf("action %q has no operation", action),
			map[string]string{"Action": action})
	}
}

// Classify maps an action name to its usage and authorization operation.
// The usage is empty and the error non-nil for unknown actions.
func Classify(action string) (Usage, authz.Operation, error) {
	op, err := OperationForAction(action)
	return FromAction(action), op, err
}

// Parse reads the Flag|Flag form produced by String. Flag names are
// case-insensitive.
func Parse(s string) (Usage, error) {
	var u Usage
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		found := false
		for _, fn := range flagNames {
			if strings.EqualFold(fn.name, part) {
				u |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown usage flag %q", part)
		}
	}
	return u, nil
}
