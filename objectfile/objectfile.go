package objectfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIVersion is the document version this package understands.
const APIVersion = "infrahub.app/v1"

// FileKind distinguishes the supported document kinds.
type FileKind string

const (
	// KindObject is a plain object document.
	KindObject FileKind = "Object"

	// KindMenu is a menu document; its records receive menu-specific
	// enrichment (order weights, default paths) when applied.
	KindMenu FileKind = "Menu"
)

// Validation errors for document envelopes.
var (
	ErrUnsupportedVersion = errors.New("objectfile: unsupported apiVersion")
	ErrUnsupportedKind    = errors.New("objectfile: unsupported kind")
	ErrEmptySpec          = errors.New("objectfile: spec.kind and spec.data are required")
)

// Metadata carries the optional document metadata.
type Metadata struct {
	Name string `yaml:"name,omitempty"`
}

// Spec is the payload of a document: the root node kind and its records.
type Spec struct {
	Kind string           `yaml:"kind"`
	Data []map[string]any `yaml:"data"`
}

// File is one parsed object or menu document.
type File struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       FileKind `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata,omitempty"`
	Spec       Spec     `yaml:"spec"`

	// Path is the file the document was read from, when loaded from disk.
	Path string `yaml:"-"`
}

// Validate checks the document envelope.
func (f *File) Validate() error {
	if f.APIVersion != APIVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, f.APIVersion)
	}
	switch f.Kind {
	case KindObject, KindMenu:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, f.Kind)
	}
	if f.Spec.Kind == "" || len(f.Spec.Data) == 0 {
		return ErrEmptySpec
	}
	return nil
}

// Read parses a YAML stream into its documents. Multi-document streams
// yield one File per document.
func Read(r io.Reader) ([]File, error) {
	dec := yaml.NewDecoder(r)

	var files []File
	for {
		var f File
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse object file: %w", err)
		}
		files = append(files, f)
	}
	return files, nil
}

// Load reads every document of one file.
func Load(path string) ([]File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object file: %w", err)
	}
	defer f.Close()

	files, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range files {
		files[i].Path = path
	}
	return files, nil
}

// LoadDirectory loads every .yml and .yaml file under dir, walking in
// lexical order so repeated runs apply documents deterministically.
func LoadDirectory(dir string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml":
		default:
			return nil
		}

		loaded, err := Load(path)
		if err != nil {
			return err
		}
		files = append(files, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
