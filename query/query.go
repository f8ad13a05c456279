package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const indentWidth = 4

var (
	// ErrEmptySelection indicates an operation with no fields to select.
	ErrEmptySelection = errors.New("selection set is empty")

	// ErrMissingMutation indicates a mutation without a mutation field name.
	ErrMissingMutation = errors.New("mutation name is required")
)

// Raw is a value rendered into the document verbatim, without quoting.
// Use it for variable references ("$branch_name") and enum literals.
type Raw string

// Field is a single selection in a GraphQL document. A Field with no child
// Fields and no Fragments renders as a leaf.
type Field struct {
	// Name is the field name as it appears in the document.
	Name string

	// Alias, when set, renders the field as "alias: name".
	Alias string

	// Args holds the field arguments, rendered in sorted key order.
	Args map[string]any

	// Fields holds the child selections, rendered in declaration order.
	Fields []Field

	// Fragments holds inline fragments rendered after the child fields.
	Fragments []Fragment
}

// Fragment is an inline fragment constraining a selection to one concrete
// kind, rendered as "... on Kind { ... }".
type Fragment struct {
	On     string
	Fields []Field
}

// Leaf returns a field with no arguments and no children.
func Leaf(name string) Field {
	return Field{Name: name}
}

// Query is a top-level GraphQL query operation.
type Query struct {
	// Name is the optional operation name.
	Name string

	// Variables maps variable names (without the leading "$") to their
	// GraphQL type, e.g. "branch_name" -> "String!".
	Variables map[string]string

	// Fields holds the top-level selections.
	Fields []Field
}

// Validate reports whether the query can be rendered into a usable document.
func (q *Query) Validate() error {
	if len(q.Fields) == 0 {
		return ErrEmptySelection
	}
	return nil
}

// Render returns the query as GraphQL document text.
func (q *Query) Render() string {
	var b strings.Builder
	renderOperation(&b, "query", q.Name, q.Variables, q.Fields)
	return b.String()
}

// Mutation is a top-level GraphQL mutation operation with a single mutation
// field.
type Mutation struct {
	// Name is the optional operation name.
	Name string

	// Variables maps variable names (without the leading "$") to their
	// GraphQL type.
	Variables map[string]string

	// Mutation is the mutation field name, e.g. "TestPersonCreate".
	Mutation string

	// Input holds the mutation arguments, typically {"data": {...}}.
	Input map[string]any

	// Fields holds the selection on the mutation result.
	Fields []Field
}

// Validate reports whether the mutation can be rendered into a usable
// document.
func (m *Mutation) Validate() error {
	if m.Mutation == "" {
		return ErrMissingMutation
	}
	if len(m.Fields) == 0 {
		return ErrEmptySelection
	}
	return nil
}

// Render returns the mutation as GraphQL document text.
func (m *Mutation) Render() string {
	root := Field{Name: m.Mutation, Args: m.Input, Fields: m.Fields}

	var b strings.Builder
	renderOperation(&b, "mutation", m.Name, m.Variables, []Field{root})
	return b.String()
}

func renderOperation(b *strings.Builder, kind, name string, variables map[string]string, fields []Field) {
	b.WriteString(kind)
	if name != "" {
		b.WriteString(" ")
		b.WriteString(name)
	}
	if len(variables) > 0 {
		names := make([]string, 0, len(variables))
		for n := range variables {
			names = append(names, n)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, "$"+n+": "+variables[n])
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	b.WriteString(" {\n")
	renderFields(b, fields, 1)
	b.WriteString("}")
}

func renderFields(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat(" ", depth*indentWidth)
	for _, f := range fields {
		b.WriteString(indent)
		if f.Alias != "" {
			b.WriteString(f.Alias)
			b.WriteString(": ")
		}
		b.WriteString(f.Name)
		if len(f.Args) > 0 {
			b.WriteString("(" + renderArgs(f.Args) + ")")
		}
		if len(f.Fields) == 0 && len(f.Fragments) == 0 {
			b.WriteString("\n")
			continue
		}
		b.WriteString(" {\n")
		renderFields(b, f.Fields, depth+1)
		renderFragments(b, f.Fragments, depth+1)
		b.WriteString(indent)
		b.WriteString("}\n")
	}
}

func renderFragments(b *strings.Builder, fragments []Fragment, depth int) {
	indent := strings.Repeat(" ", depth*indentWidth)
	for _, frag := range fragments {
		b.WriteString(indent)
		b.WriteString("... on ")
		b.WriteString(frag.On)
		b.WriteString(" {\n")
		renderFields(b, frag.Fields, depth+1)
		b.WriteString(indent)
		b.WriteString("}\n")
	}
}

func renderArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+renderValue(args[k]))
	}
	return strings.Join(parts, ", ")
}

// renderValue converts a Go value to its GraphQL literal form. Unrecognized
// types fall back to their default formatting, unquoted.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case Raw:
		return string(val)
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case []string:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, strconv.Quote(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, renderValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		return "{" + renderArgs(val) + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}
