// Package requestctx carries per-request identity and locale through context.
package requestctx

import (
	"context"
	"slices"
)

// Subject is the caller on whose behalf an operation runs.
type Subject struct {
	UserID string
	Roles  []string
}

// Anonymous reports whether the subject carries no user identity.
func (s Subject) Anonymous() bool {
	return s.UserID == ""
}

// HasRole reports whether the subject holds role.
func (s Subject) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

type subjectContextKey struct{}

type localeContextKey struct{}

// WithSubject stores the caller in context.
func WithSubject(ctx context.Context, subject Subject) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	subject.Roles = slices.Clone(subject.Roles)
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the caller stored in context, or the anonymous
// subject when none was set.
func SubjectFromContext(ctx context.Context) Subject {
	if ctx == nil {
		return Subject{}
	}
	value, _ := ctx.Value(subjectContextKey{}).(Subject)
	return value
}

// WithUserID stores a user identifier in context, keeping any roles.
func WithUserID(ctx context.Context, userID string) context.Context {
	subject := SubjectFromContext(ctx)
	subject.UserID = userID
	return WithSubject(ctx, subject)
}

// UserIDFromContext returns the user identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	return SubjectFromContext(ctx).UserID
}

// WithLocale stores the negotiated locale (an Accept-Language value) in context.
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey{}, locale)
}

// LocaleFromContext returns the locale stored in context.
func LocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(localeContextKey{}).(string)
	return value
}
