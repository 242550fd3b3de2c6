// Package form validates entities against the rule tags of their fields.
package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/collection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
)

// valuer exposes field values by path. Documents satisfy it.
type valuer interface {
	Value(path string) any
}

// RuleValidator checks each field value with its validator tag.
type RuleValidator struct {
	validate *validator.Validate
}

// NewRuleValidator builds a validator with the default rule set.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns one message per failing field. Entities that do not
// expose values by path are treated as valid.
func (v *RuleValidator) Validate(e entity.Entity, fields []collection.Field) map[string]string {
	src, ok := e.(valuer)
	if !ok {
		return nil
	}
	var out map[string]string
	for _, field := range fields {
		rules := strings.TrimSpace(field.Rules)
		if rules == "" {
			continue
		}
		err := v.validate.Var(src.Value(field.Name), rules)
		if err == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[field.Name] = message(field, err)
	}
	return out
}

func message(field collection.Field, err error) string {
	label := field.Label
	if label == "" {
		label = field.Name
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Sprintf("%s is invalid", label)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be an email address", label)
	case "url":
		return fmt.Sprintf("%s must be a URL", label)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", label, fe.Tag())
	}
}
