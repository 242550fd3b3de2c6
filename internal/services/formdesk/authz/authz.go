package authz

import (
	"context"
	"slices"

	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/entity"
)

const (
	ReasonAllowRole          = "AUTHZ_ALLOW_ROLE"
	ReasonAllowAnonymousMode = "AUTHZ_ALLOW_ANONYMOUS_MODE"
	ReasonDenyNoMatchingRule = "AUTHZ_DENY_NO_MATCHING_RULE"
	ReasonDenyAnonymous      = "AUTHZ_DENY_ANONYMOUS"
)

// RoleAnonymous matches callers without a user identity.
const RoleAnonymous = "anonymous"

// Wildcard matches any collection or operation in a rule.
const Wildcard = "*"

// Subject is the caller on whose behalf an operation runs.
type Subject = requestctx.Subject

// Resource is the entity an operation targets.
type Resource struct {
	Collection string
	Entity     entity.Entity
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed    bool
	ReasonCode string
}

// Authorizer approves or denies operations.
type Authorizer interface {
	Authorize(ctx context.Context, subject Subject, resource Resource, op Operation) (Decision, error)
}

// AllowAll approves every operation.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, Subject, Resource, Operation) (Decision, error) {
	return Decision{Allowed: true, ReasonCode: ReasonAllowAnonymousMode}, nil
}

// Rule grants a role an operation on a collection.
type Rule struct {
	Role       string    `yaml:"role"`
	Operation  Operation `yaml:"operation"`
	Collection string    `yaml:"collection"`
}

func (r Rule) matches(role string, collection string, op Operation) bool {
	if r.Role != role {
		return false
	}
	if r.Operation != Operation(Wildcard) && r.Operation != op {
		return false
	}
	return r.Collection == Wildcard || r.Collection == collection
}

// PolicyEvaluator authorizes against a static rule table.
type PolicyEvaluator struct {
	rules []Rule
}

// NewPolicyEvaluator builds an evaluator over rules.
func NewPolicyEvaluator(rules []Rule) *PolicyEvaluator {
	return &PolicyEvaluator{rules: slices.Clone(rules)}
}

// Rules returns a copy of the rule table.
func (p *PolicyEvaluator) Rules() []Rule {
	return slices.Clone(p.rules)
}

// Authorize implements Authorizer. Anonymous subjects are only matched by
// rules for RoleAnonymous.
func (p *PolicyEvaluator) Authorize(_ context.Context, subject Subject, resource Resource, op Operation) (Decision, error) {
	roles := subject.Roles
	if subject.Anonymous() {
		roles = []string{RoleAnonymous}
	}
	for _, role := range roles {
		for _, rule := range p.rules {
			if rule.matches(role, resource.Collection, op) {
				return Decision{Allowed: true, ReasonCode: ReasonAllowRole}, nil
			}
		}
	}
	if subject.Anonymous() {
		return Decision{Allowed: false, ReasonCode: ReasonDenyAnonymous}, nil
	}
	return Decision{Allowed: false, ReasonCode: ReasonDenyNoMatchingRule}, nil
}
