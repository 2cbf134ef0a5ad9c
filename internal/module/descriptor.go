package module

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Descriptor is the on-disk metadata of a module. Reading it never runs
// module code.
type Descriptor struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Types       []string `yaml:"types"`

	Path        string `yaml:"-"` // Absolute path of the descriptor file
	Fingerprint string `yaml:"-"` // BLAKE3 of the descriptor bytes
}

// HasType reports whether the descriptor declares the named type.
func (d *Descriptor) HasType(name string) bool {
	for _, t := range d.Types {
		if t == name {
			return true
		}
	}
	return false
}

// IsDescriptorFile reports whether name has a descriptor extension.
func IsDescriptorFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Inspect reads and validates the descriptor at path.
func Inspect(path string) (*Descriptor, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptor path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor YAML %s: %w", absPath, err)
	}
	if err := checkSchema(raw); err != nil {
		return nil, fmt.Errorf("invalid descriptor %s: %w", absPath, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor YAML %s: %w", absPath, err)
	}
	if err := validateDescriptor(&d); err != nil {
		return nil, fmt.Errorf("invalid descriptor %s: %w", absPath, err)
	}

	sum := blake3.Sum256(data)
	d.Path = absPath
	d.Fingerprint = hex.EncodeToString(sum[:])
	return &d, nil
}

// ScanDir lists descriptor files in dir, sorted by file name. A path that
// is missing or is not a directory yields no files and no error.
func ScanDir(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	// os.ReadDir returns entries sorted by file name.
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsDescriptorFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

const descriptorSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": ["string", "number"]},
    "description": {"type": "string"},
    "types": {"type": "array", "items": {"type": "string"}}
  }
}`

var descriptorSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(descriptorSchemaJSON))
})

// checkSchema validates the structure of a decoded descriptor document.
func checkSchema(doc any) error {
	schema, err := descriptorSchema()
	if err != nil {
		return fmt.Errorf("compile descriptor schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return errors.New(strings.Join(details, "; "))
}

func validateDescriptor(d *Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(d.Name, ", ") {
		return fmt.Errorf("name %q must not contain commas or spaces", d.Name)
	}
	for i, t := range d.Types {
		t = strings.TrimSpace(t)
		if t == "" {
			return fmt.Errorf("types[%d] is empty", i)
		}
		d.Types[i] = t
	}
	return nil
}
