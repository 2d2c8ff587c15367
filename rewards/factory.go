package rewards

import (
	"bytes"
	_ "embed"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTableYAML []byte

// DefaultTable returns the built-in category table.
func DefaultTable() CategoryTable {
	t, err := ParseCategoryTable(defaultTableYAML)
	if err != nil {
		panic(errors.Wrap(err, "built-in category table"))
	}
	return t
}

// ParseCategoryTable decodes and validates a YAML category table.
// Unknown keys are rejected so typos do not silently zero a field.
func ParseCategoryTable(data []byte) (CategoryTable, error) {
	var t CategoryTable
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return CategoryTable{}, errors.Wrap(err, "decode category table")
	}
	if err := t.Validate(); err != nil {
		return CategoryTable{}, err
	}
	return t, nil
}

// LoadCategoryTable reads a table from path, or returns the built-in table
// when path is empty.
func LoadCategoryTable(path string) (CategoryTable, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CategoryTable{}, errors.Wrapf(err, "read category table %s", path)
	}
	return ParseCategoryTable(data)
}
