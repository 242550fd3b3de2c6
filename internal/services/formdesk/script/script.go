// Package script runs custom button handlers written in Lua.
package script

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/Shopify/go-lua"
	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"go.uber.org/zap"
)

// LuaHandler executes a chunk for each button press. Every call gets a
// fresh state with the globals parent_id, id and payload, plus a log
// function. Raising an error in the chunk fails the action.
type LuaHandler struct {
	name   string
	source string
	logger *zap.Logger
}

// NewLuaHandler builds a handler for source. The chunk is syntax-checked
// once up front.
func NewLuaHandler(name, source string, logger *zap.Logger) (*LuaHandler, error) {
	if strings.TrimSpace(source) == "" {
		return nil, apperrors.Errorf(apperrors.CodeInvalidShape, "script %q is empty", name)
	}
	state := lua.NewState()
	if err := lua.LoadString(state, source); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidShape, fmt.Sprintf("compile script %q", name), err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LuaHandler{name: name, source: source, logger: logger}, nil
}

// HandleAction implements button.Handler.
func (h *LuaHandler) HandleAction(ctx context.Context, parentID, id string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := lua.NewState()
	lua.OpenLibraries(state)

	state.PushString(parentID)
	state.SetGlobal("parent_id")
	state.PushString(id)
	state.SetGlobal("id")
	push(state, payload)
	state.SetGlobal("payload")
	state.Register("log", h.log)

	if err := lua.LoadString(state, h.source); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidShape, fmt.Sprintf("compile script %q", h.name), err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidOperation, fmt.Sprintf("run script %q", h.name), err)
	}
	return nil
}

func (h *LuaHandler) log(state *lua.State) int {
	msg := lua.CheckString(state, 1)
	h.logger.Info(msg, zap.String("script", h.name))
	return 0
}

// push converts decoded JSON-like values to Lua values. Unknown types are
// pushed as their string form.
func push(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case string:
		state.PushString(v)
	case bool:
		state.PushBoolean(v)
	case float64:
		state.PushNumber(v)
	case int:
		state.PushInteger(v)
	case int64:
		state.PushNumber(float64(v))
	case []string:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			state.PushString(item)
			state.RawSetInt(-2, i+1)
		}
	case []any:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			push(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		state.CreateTable(0, len(v))
		for _, k := range keys {
			push(state, v[k])
			state.SetField(-2, k)
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			state.PushNil()
			return
		}
		state.PushString(fmt.Sprint(value))
	}
}
