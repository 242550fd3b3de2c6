package authz

import (
	"fmt"

	apperrors "github.com/louisbranch/formdesk/internal/platform/errors"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
)

// Operation is an abstract authorization operation.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationView   Operation = "view"
	OperationList   Operation = "list"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationAdd    Operation = "add"
	OperationRemove Operation = "remove"
	OperationPick   Operation = "pick"
)

// Operations returns every known operation.
func Operations() []Operation {
	return []Operation{
		OperationRead, OperationView, OperationList, OperationCreate, OperationUpdate,
		OperationDelete, OperationAdd, OperationRemove, OperationPick,
	}
}

// ParseOperation resolves an operation name.
func ParseOperation(value string) (Operation, bool) {
	for _, op := range Operations() {
		if string(op) == value {
			return op, true
		}
	}
	return "", false
}

// OperationForCrud maps a button's CRUD effect to the operation authorized
// before the effect runs. Effects that never write still map to a read
// operation so they are authorized too.
func OperationForCrud(effect crud.Type) (Operation, error) {
	switch effect {
	case crud.Read, crud.None, crud.Refresh, crud.Return:
		return OperationRead, nil
	case crud.View:
		return OperationView, nil
	case crud.Create, crud.Insert:
		return OperationCreate, nil
	case crud.Update:
		return OperationUpdate, nil
	case crud.Delete:
		return OperationDelete, nil
	case crud.Add:
		return OperationAdd, nil
	case crud.Remove:
		return OperationRemove, nil
	case crud.Pick:
		return OperationPick, nil
	default:
		return "", apperrors.New(apperrors.CodeInvalidOperation,
			fmt.Sprintf("crud effect %d has no operation", int(effect)))
	}
}
