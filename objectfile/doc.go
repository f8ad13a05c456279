// Package objectfile loads declarative object and menu documents and
// applies them to a server.
//
// Documents are YAML files carrying an apiVersion, a kind (Object or
// Menu), and a spec with the root node kind and its records. The Loader
// creates every record, recursively materializing relationships declared
// inline as nested {kind, data} blocks, with the reverse link back to the
// parent filled in automatically.
package objectfile
