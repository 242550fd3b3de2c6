// Package filter translates AIP-160 filter expressions over entity
// documents into SQLite WHERE fragments.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Kind is the declared type of a filterable document field.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

// Ident declares one filterable document field.
type Ident struct {
	Name string
	Kind Kind
}

// SQLCondition represents a SQL WHERE clause fragment with parameters.
type SQLCondition struct {
	// Clause is the SQL WHERE clause (e.g., "parent_id = ?").
	Clause string
	// Params are the positional parameters for the clause.
	Params []any
}

// Empty reports whether the condition matches everything.
func (c SQLCondition) Empty() bool {
	return c.Clause == ""
}

// columns maps the entity row columns every collection can filter on.
var columns = map[string]string{
	"id":        "id",
	"parent_id": "parent_id",
	"variant":   "variant",
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Declarations returns the filter declarations for a collection whose
// documents expose fields.
func Declarations(fields []Ident) (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("id", filtering.TypeString),
		filtering.DeclareIdent("parent_id", filtering.TypeString),
		filtering.DeclareIdent("variant", filtering.TypeString),
	}
	for _, field := range fields {
		if _, reserved := columns[field.Name]; reserved || !identPattern.MatchString(field.Name) {
			continue
		}
		opts = append(opts, filtering.DeclareIdent(field.Name, field.Kind.exprType()))
	}
	return filtering.NewDeclarations(opts...)
}

func (k Kind) exprType() *expr.Type {
	switch k {
	case KindNumber:
		return filtering.TypeFloat
	case KindBool:
		return filtering.TypeBool
	default:
		return filtering.TypeString
	}
}

// Parse parses an AIP-160 filter expression and returns a SQL condition.
// Returns an empty condition for an empty filter string.
func Parse(filterStr string, fields []Ident) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}

	decls, err := Declarations(fields)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}

	filter, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("parse filter: %w", err)
	}

	return translateExpr(filter.CheckedExpr.Expr)
}

func column(field string) string {
	if col, ok := columns[field]; ok {
		return col
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

func translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case filtering.FunctionAnd:
		return translateJunction(call.Args, "AND")
	case filtering.FunctionOr:
		return translateJunction(call.Args, "OR")
	case filtering.FunctionNot:
		return translateNot(call.Args)
	case filtering.FunctionHas:
		return translateHas(call.Args)
	case filtering.FunctionEquals:
		return translateComparison(call.Args, "=")
	case filtering.FunctionNotEquals:
		return translateComparison(call.Args, "!=")
	case filtering.FunctionLessThan:
		return translateComparison(call.Args, "<")
	case filtering.FunctionLessEquals:
		return translateComparison(call.Args, "<=")
	case filtering.FunctionGreaterThan:
		return translateComparison(call.Args, ">")
	case filtering.FunctionGreaterEquals:
		return translateComparison(call.Args, ">=")
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires 2 arguments", op)
	}

	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := translateExpr(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}

	return SQLCondition{
		Clause: "(" + strings.Join(clauses, " "+op+" ") + ")",
		Params: params,
	}, nil
}

func translateNot(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 1 {
		return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
	}
	inner, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	return SQLCondition{Clause: "NOT " + inner.Clause, Params: inner.Params}, nil
}

// translateHas maps the ":" operator to a substring match.
func translateHas(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("has requires 2 arguments")
	}
	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	return SQLCondition{
		Clause: fmt.Sprintf("instr(%s, ?) > 0", column(field)),
		Params: []any{fmt.Sprint(value)},
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}

	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}

	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", column(field), op),
		Params: []any{value},
	}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	kind, ok := e.ExprKind.(*expr.Expr_ConstExpr)
	if !ok {
		return nil, fmt.Errorf("expected constant, got %T", e.ExprKind)
	}
	switch c := kind.ConstExpr.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return c.StringValue, nil
	case *expr.Constant_Int64Value:
		return c.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return c.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return c.DoubleValue, nil
	case *expr.Constant_BoolValue:
		if c.BoolValue {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", c)
	}
}
