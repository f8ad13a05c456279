package objectfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	infrahub "github.com/opsmill/infrahub-sdk-go"
	"github.com/opsmill/infrahub-sdk-go/schema"
)

// EnrichContext describes where a record sits while the loader walks a
// document tree.
type EnrichContext struct {
	// Kind is the kind the record will be created as.
	Kind string

	// ListIndex is the record's position within its containing list, or -1
	// for a record nested as a single object.
	ListIndex int
}

// EnrichFunc can inject derived fields into a record before it is created.
// The record passed in is the loader's own copy; mutating it is safe.
type EnrichFunc func(record map[string]any, ectx EnrichContext)

// MenuEnrich derives the menu item fields the file format leaves implicit:
// records in a list receive an order weight from their position, and a
// record carrying a "kind" convenience key has it replaced by the matching
// object-list path.
func MenuEnrich(record map[string]any, ectx EnrichContext) {
	if ectx.ListIndex >= 0 {
		if _, ok := record["order_weight"]; !ok {
			record["order_weight"] = (ectx.ListIndex + 1) * 1000
		}
	}
	if kind, ok := record["kind"].(string); ok {
		delete(record, "kind")
		if _, exists := record["path"]; !exists && kind != "" {
			record["path"] = "/objects/" + kind
		}
	}
}

// Loader applies object and menu documents to a server.
type Loader struct {
	client *infrahub.Client
	branch string
	logger *slog.Logger
	enrich EnrichFunc
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBranch applies documents to the given branch instead of the client
// default.
func WithBranch(branch string) LoaderOption {
	return func(l *Loader) {
		l.branch = branch
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithEnrich installs a hook run on every record before creation. It
// overrides the default menu enrichment for Menu documents.
func WithEnrich(fn EnrichFunc) LoaderOption {
	return func(l *Loader) {
		l.enrich = fn
	}
}

// NewLoader returns a loader that applies documents through client.
func NewLoader(client *infrahub.Client, opts ...LoaderOption) *Loader {
	l := &Loader{client: client}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return l
}

// Apply creates every record of one document, returning the created nodes
// with each parent preceding its children. The first failure stops the
// apply; nodes already created are returned alongside the error.
func (l *Loader) Apply(ctx context.Context, file *File) ([]*infrahub.Node, error) {
	const op = "Loader.Apply"

	if err := file.Validate(); err != nil {
		return nil, infrahub.NewValidationError(op, err)
	}

	enrich := l.enrich
	if enrich == nil && file.Kind == KindMenu {
		enrich = MenuEnrich
	}

	var created []*infrahub.Node
	for i, record := range file.Spec.Data {
		nodes, err := l.createRecord(ctx, file.Spec.Kind, record, i, nil, enrich)
		created = append(created, nodes...)
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// ApplyAll applies documents in order, stopping at the first failure.
func (l *Loader) ApplyAll(ctx context.Context, files []File) ([]*infrahub.Node, error) {
	var created []*infrahub.Node
	for i := range files {
		nodes, err := l.Apply(ctx, &files[i])
		created = append(created, nodes...)
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// parentLink points a child record back at the node it was nested under.
type parentLink struct {
	field string
	id    string
}

// createRecord creates one record and recursively materializes its inline
// relationship declarations.
func (l *Loader) createRecord(ctx context.Context, kind string, record map[string]any, listIndex int, parent *parentLink, enrich EnrichFunc) ([]*infrahub.Node, error) {
	const op = "Loader.Apply"

	sch, err := l.client.Schema().Get(ctx, kind, l.branch)
	if err != nil {
		return nil, err
	}

	// Work on a copy so enrichment and the reverse link never leak into
	// the caller's document.
	data := make(map[string]any, len(record)+1)
	for key, value := range record {
		data[key] = value
	}
	if parent != nil {
		data[parent.field] = parent.id
	}

	if enrich != nil {
		enrich(data, EnrichContext{Kind: kind, ListIndex: listIndex})
	}

	if err := validateMandatory(sch, data); err != nil {
		return nil, infrahub.NewValidationError(op, err)
	}

	for key := range data {
		if key != "id" && !sch.HasAttribute(key) && !sch.HasRelationship(key) {
			return nil, infrahub.NewValidationError(op,
				fmt.Errorf("%s has no field named %q", sch.Kind(), key))
		}
	}

	createData := make(map[string]any, len(data))
	if id, ok := data["id"]; ok {
		createData["id"] = id
	}
	for _, name := range sch.AttributeNames() {
		if value, ok := data[name]; ok {
			createData[name] = value
		}
	}

	// Relationships partition in schema order so deferred creation is
	// deterministic.
	var deferred []deferredRelation
	for i := range sch.Relationships {
		rel := &sch.Relationships[i]
		value, ok := data[rel.Name]
		if !ok {
			continue
		}

		if nested, ok := nestedDeclaration(value); ok {
			deferred = append(deferred, deferredRelation{rel: rel, decl: nested})
			continue
		}

		if rel.Cardinality == schema.CardinalityMany {
			if _, isList := value.([]any); !isList {
				// A bare scalar reference is accepted as a one-element
				// list; anything else is a shape mismatch.
				if !isScalar(value) {
					return nil, infrahub.NewValidationError(op,
						fmt.Errorf("relationship %s of %s expects a list, got %T", rel.Name, sch.Kind(), value))
				}
				createData[rel.Name] = []any{value}
				continue
			}
		}
		createData[rel.Name] = value
	}

	node, err := l.client.CreateOnBranch(ctx, kind, l.branch, createData)
	if err != nil {
		return nil, err
	}
	if err := node.Save(ctx, true); err != nil {
		return nil, err
	}

	l.logger.Debug("applied object",
		"kind", kind,
		"id", node.ID(),
		"display_label", node.DisplayLabel())

	created := []*infrahub.Node{node}

	for _, d := range deferred {
		nodes, err := l.createNested(ctx, sch, node, d, enrich)
		created = append(created, nodes...)
		if err != nil {
			return created, err
		}
	}

	return created, nil
}

// deferredRelation is a relationship whose value was declared inline and
// must be created after its parent.
type deferredRelation struct {
	rel  *schema.RelationshipSchema
	decl map[string]any
}

// createNested materializes the peers of one deferred relationship,
// pointing each back at parent through the peer schema's reverse link.
func (l *Loader) createNested(ctx context.Context, sch *schema.NodeSchema, parent *infrahub.Node, d deferredRelation, enrich EnrichFunc) ([]*infrahub.Node, error) {
	const op = "Loader.Apply"

	peerKind := d.rel.Peer
	if kind, ok := d.decl["kind"].(string); ok && kind != "" {
		peerKind = kind
	}

	peerSchema, err := l.client.Schema().Get(ctx, peerKind, l.branch)
	if err != nil {
		return nil, err
	}

	if d.rel.Identifier == "" {
		return nil, infrahub.NewValidationError(op,
			fmt.Errorf("relationship %s of %s has no identifier to resolve the reverse link", d.rel.Name, sch.Kind()))
	}
	reverse := peerSchema.GetRelationshipByIdentifier(d.rel.Identifier)
	if reverse == nil {
		return nil, infrahub.NewValidationError(op,
			fmt.Errorf("%s has no relationship with identifier %q", peerKind, d.rel.Identifier))
	}
	link := &parentLink{field: reverse.Name, id: parent.ID()}

	var created []*infrahub.Node

	switch d.rel.Cardinality {
	case schema.CardinalityOne:
		record, ok := d.decl["data"].(map[string]any)
		if !ok {
			return nil, infrahub.NewValidationError(op,
				fmt.Errorf("relationship %s of %s expects a single nested object", d.rel.Name, sch.Kind()))
		}
		nodes, err := l.createRecord(ctx, peerKind, record, -1, link, enrich)
		created = append(created, nodes...)
		if err != nil {
			return created, err
		}

	case schema.CardinalityMany:
		items, ok := d.decl["data"].([]any)
		if !ok {
			return nil, infrahub.NewValidationError(op,
				fmt.Errorf("relationship %s of %s expects a list of nested objects", d.rel.Name, sch.Kind()))
		}
		for i, item := range items {
			record, ok := item.(map[string]any)
			if !ok {
				return created, infrahub.NewValidationError(op,
					fmt.Errorf("relationship %s of %s: element %d is not an object", d.rel.Name, sch.Kind(), i))
			}
			nodes, err := l.createRecord(ctx, peerKind, record, i, link, enrich)
			created = append(created, nodes...)
			if err != nil {
				return created, err
			}
		}
	}

	return created, nil
}

// nestedDeclaration reports whether a relationship value is an inline
// {kind?, data} declaration rather than a plain reference.
func nestedDeclaration(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := m["data"]; !ok {
		return nil, false
	}
	return m, true
}

// validateMandatory checks that every mandatory schema field appears as a
// key, before any create is attempted.
func validateMandatory(sch *schema.NodeSchema, data map[string]any) error {
	var missing []string
	for _, name := range sch.MandatoryFieldNames() {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s record is missing mandatory fields: %s", sch.Kind(), strings.Join(missing, ", "))
	}
	return nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, int, int64, float64, bool:
		return true
	default:
		return false
	}
}
