// Package modconfig loads a module directory's wasm_config.yaml: a set of
// YAML documents, each describing one WASM module to load, separated by
// "\n---" (any line that begins with "---").
package modconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar is one name/value pair passed into a guest's WASI environment.
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Module describes one entry in wasm_config.yaml. Wasm is resolved relative
// to the directory wasm_config.yaml was read from.
type Module struct {
	Name string   `yaml:"name"`
	Wasm string   `yaml:"wasm"`
	Env  []EnvVar `yaml:"env"`
	Args []string `yaml:"args"`
}

// Load reads wasm_config.yaml from dir and decodes every document in it.
// Documents are separated by "\n---"; a trailing empty document (a lone
// separator at end of file) is skipped rather than treated as a parse
// error.
func Load(dir string) ([]Module, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "wasm_config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("reading wasm_config.yaml: %w", err)
	}

	var modules []Module
	for _, doc := range strings.Split(string(raw), "\n---") {
		if strings.TrimSpace(doc) == "" {
			continue
		}

		var m Module
		if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("parsing module metadata: %w", err)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("module metadata missing name")
		}
		m.Wasm = filepath.Join(dir, m.Wasm)
		modules = append(modules, m)
	}

	return modules, nil
}
