// Package authz decides whether a subject may perform an operation on a
// collection entity.
//
// Dispatch maps every button's CRUD effect and every action name to an
// Operation and asks one Authorizer before touching storage. The policy
// evaluator reads a role/operation/collection table; AllowAll serves
// anonymous deployments.
package authz
