// Package schema loads YAML collection declarations and builds the
// application's collection registry from them.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/crud"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/usage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/filter"
	"gopkg.in/yaml.v3"
)

var aliasPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// LoadFile reads and validates the declaration at path. Relative script
// files resolve against the declaration's directory.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	doc.baseDir = filepath.Dir(path)
	return doc, nil
}

// Parse decodes and validates a YAML declaration.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return &doc, nil
}

// Validate checks the declaration's syntax and cross references.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if len(d.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	aliases := make(map[string]bool, len(d.Collections))
	for i, c := range d.Collections {
		if !aliasPattern.MatchString(c.Alias) {
			return fmt.Errorf("collections[%d]: invalid alias %q", i, c.Alias)
		}
		if aliases[c.Alias] {
			return fmt.Errorf("duplicate collection alias %q", c.Alias)
		}
		aliases[c.Alias] = true
		if len(c.Variants) == 0 {
			return fmt.Errorf("collection %q: at least one variant is required", c.Alias)
		}
		for _, f := range c.Filterable {
			if _, err := filterKind(f.Type); err != nil {
				return fmt.Errorf("collection %q filterable %q: %w", c.Alias, f.Name, err)
			}
		}
		for _, b := range c.buttons() {
			if err := b.validate(); err != nil {
				return fmt.Errorf("collection %q: %w", c.Alias, err)
			}
		}
	}
	for _, c := range d.Collections {
		for _, f := range c.fields() {
			if f.Relation != nil && !aliases[f.Relation.Collection] {
				return fmt.Errorf("collection %q field %q: unknown relation collection %q",
					c.Alias, f.Name, f.Relation.Collection)
			}
		}
	}
	for i, rule := range d.Policy {
		if strings.TrimSpace(rule.Role) == "" {
			return fmt.Errorf("policy[%d]: role is required", i)
		}
		if rule.Operation != authz.Wildcard {
			if _, ok := authz.ParseOperation(rule.Operation); !ok {
				return fmt.Errorf("policy[%d]: unknown operation %q", i, rule.Operation)
			}
		}
		if rule.Collection != authz.Wildcard && !aliases[rule.Collection] {
			return fmt.Errorf("policy[%d]: unknown collection %q", i, rule.Collection)
		}
	}
	return nil
}

// Rules returns the policy table for authz.NewPolicyEvaluator.
func (d *Document) Rules() []authz.Rule {
	rules := make([]authz.Rule, 0, len(d.Policy))
	for _, p := range d.Policy {
		rules = append(rules, authz.Rule{Role: p.Role, Operation: authz.Operation(p.Operation), Collection: p.Collection})
	}
	return rules
}

// FilterFields returns each collection's filterable fields.
func (d *Document) FilterFields() map[string][]filter.Ident {
	out := make(map[string][]filter.Ident)
	for _, c := range d.Collections {
		for _, f := range c.Filterable {
			kind, _ := filterKind(f.Type)
			out[c.Alias] = append(out[c.Alias], filter.Ident{Name: f.Name, Kind: kind})
		}
	}
	return out
}

func filterKind(name string) (filter.Kind, error) {
	switch name {
	case "", "string":
		return filter.KindString, nil
	case "number":
		return filter.KindNumber, nil
	case "bool":
		return filter.KindBool, nil
	default:
		return 0, fmt.Errorf("unknown filter type %q", name)
	}
}

func (c CollectionSpec) panes() []PaneSpec {
	var out []PaneSpec
	if c.NodeView != nil {
		out = append(out, c.NodeView.Panes...)
	}
	if c.NodeEditor != nil {
		out = append(out, c.NodeEditor.Panes...)
	}
	if c.ListView != nil && c.ListView.Pane != nil {
		out = append(out, *c.ListView.Pane)
	}
	if c.ListEditor != nil {
		out = append(out, c.ListEditor.Panes...)
	}
	return out
}

func (c CollectionSpec) fields() []FieldSpec {
	var out []FieldSpec
	for _, p := range c.panes() {
		out = append(out, p.Fields...)
	}
	return out
}

func (c CollectionSpec) buttons() []ButtonSpec {
	var out []ButtonSpec
	if c.NodeView != nil {
		out = append(out, c.NodeView.Buttons...)
	}
	if c.NodeEditor != nil {
		out = append(out, c.NodeEditor.Buttons...)
	}
	if c.ListView != nil {
		out = append(out, c.ListView.Buttons...)
	}
	if c.ListEditor != nil {
		out = append(out, c.ListEditor.Buttons...)
	}
	for _, p := range c.panes() {
		out = append(out, p.Buttons...)
	}
	return out
}

func (b ButtonSpec) validate() error {
	if b.Default != "" {
		if _, ok := button.ParseDefaultType(b.Default); !ok {
			return fmt.Errorf("unknown default button %q", b.Default)
		}
		return nil
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("custom button id is required")
	}
	if _, ok := crud.Parse(b.Crud); !ok {
		return fmt.Errorf("button %q: unknown crud effect %q", b.ID, b.Crud)
	}
	sources := 0
	for _, s := range []string{b.Script, b.ScriptFile, b.Handler} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources > 1 {
		return fmt.Errorf("button %q: script, script_file and handler are exclusive", b.ID)
	}
	for _, u := range b.Usages {
		if _, err := usage.Parse(u); err != nil {
			return fmt.Errorf("button %q: %w", b.ID, err)
		}
	}
	return nil
}
