package dispatch

// IntentKind names what the caller should do after an action.
type IntentKind string

const (
	KindNavigate        IntentKind = "navigate"
	KindReload          IntentKind = "reload"
	KindUpdateParameter IntentKind = "update_parameter"
	KindReturn          IntentKind = "return"
	KindNoOperation     IntentKind = "no_operation"
)

// Intent is the result of executing an action. The set of implementations
// is closed.
type Intent interface {
	Kind() IntentKind
	intent()
}

// Navigate sends the caller to URI.
type Navigate struct {
	URI string
}

// Reload asks the caller to re-render the current view.
type Reload struct{}

// UpdateParameter asks the caller to re-render in place with new route
// parameters.
type UpdateParameter struct {
	Action     string
	Collection string
	Variant    string
	ParentID   string
	ID         string
}

// Return asks the caller to go back to the previous view.
type Return struct{}

// NoOperation leaves the view as is.
type NoOperation struct{}

func (Navigate) Kind() IntentKind        { return KindNavigate }
func (Reload) Kind() IntentKind          { return KindReload }
func (UpdateParameter) Kind() IntentKind { return KindUpdateParameter }
func (Return) Kind() IntentKind          { return KindReturn }
func (NoOperation) Kind() IntentKind     { return KindNoOperation }

func (Navigate) intent()        {}
func (Reload) intent()          {}
func (UpdateParameter) intent() {}
func (Return) intent()          {}
func (NoOperation) intent()     {}

// Fields flattens an intent for transports: the kind plus its non-empty
// parameters.
func Fields(i Intent) map[string]string {
	if i == nil {
		return map[string]string{"kind": string(KindNoOperation)}
	}
	out := map[string]string{"kind": string(i.Kind())}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	switch v := i.(type) {
	case Navigate:
		set("uri", v.URI)
	case UpdateParameter:
		set("action", v.Action)
		set("collection", v.Collection)
		set("variant", v.Variant)
		set("parentId", v.ParentID)
		set("id", v.ID)
	}
	return out
}
