package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultTable []byte

// File is the on-disk registry format. The table is hot-reloadable: calling
// Load again with the same Registry swaps the contents without restarting
// in-flight requests.
type File struct {
	Aliases map[string]string `yaml:"aliases"`
	Models  []ModelSpec       `yaml:"models"`
}

// ParseFile decodes and validates a registry table from YAML bytes.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry table: %w", err)
	}
	if err := ValidateFile(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads a registry table from disk, falling back to the embedded
// default table when path is empty.
func LoadFile(path string) (*File, error) {
	data := defaultTable
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read registry table: %w", err)
		}
		data = b
	}
	return ParseFile(data)
}
