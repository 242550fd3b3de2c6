// Package button resolves the button that fired an action and the CRUD
// effect it carries.
package button

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
)

// Kind distinguishes built-in buttons from user-defined ones.
type Kind int

const (
	KindDefault Kind = iota + 1
	KindCustom
)

// Handler runs a custom button's side effect before its CRUD effect.
type Handler interface {
	HandleAction(ctx context.Context, parentID, id string, payload any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, parentID, id string, payload any) error

// HandleAction implements Handler.
func (f HandlerFunc) HandleAction(ctx context.Context, parentID, id string, payload any) error {
	return f(ctx, parentID, id, payload)
}

// Button is a configured action trigger.
type Button struct {
	ID    string
	Kind  Kind
	Label string
	Icon  string

	// Crud is the effect of custom buttons. Default buttons derive it from
	// DefaultType.
	Crud        crud.Type
	DefaultType DefaultType

	RequiresValidForm bool

	// Metadata carries an entity.Variant for Create buttons.
	Metadata any

	// Handler is set on custom buttons only.
	Handler Handler

	// Usages lists the contexts the button is shown in. Empty means always.
	Usages []usage.Usage
}

// CrudType returns the effect the button triggers in context u.
func (b Button) CrudType(u usage.Usage) crud.Type {
	if b.Kind == KindDefault {
		return b.DefaultType.CrudType(u)
	}
	return b.Crud
}

// Custom reports whether the button runs a handler.
func (b Button) Custom() bool {
	return b.Kind == KindCustom && b.Handler != nil
}

// VisibleIn reports whether the button is shown in context u.
func (b Button) VisibleIn(u usage.Usage) bool {
	if len(b.Usages) == 0 {
		return true
	}
	for _, want := range b.Usages {
		if u.Has(want) {
			return true
		}
	}
	return false
}

// NewCustom builds a custom button.
func NewCustom(id, label, icon string, effect crud.Type, handler Handler) Button {
	return Button{
		ID:      id,
		Kind:    KindCustom,
		Label:   label,
		Icon:    icon,
		Crud:    effect,
		Handler: handler,
	}
}

// Find returns the button with id.
func Find(buttons []Button, id string) (Button, error) {
	for _, b := range buttons {
		if b.ID == id {
			return b, nil
		}
	}
	return Button{}, apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("button %q not found", id),
		map[string]string{"Resource": "Button"})
}

// Filter returns the buttons visible in context u.
func Filter(buttons []Button, u usage.Usage) []Button {
	var out []Button
	for _, b := range buttons {
		if b.VisibleIn(u) {
			out = append(out, b)
		}
	}
	return out
}
