// Package sources loads the repository registry from sources.yaml.
package sources

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing of sources.yaml
type Loader struct {
	filePath string
	lookup   func(string) (string, bool)
}

// NewLoader creates a new sources loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
		lookup:   os.LookupEnv,
	}
}

// Load reads and parses the sources file. Unknown keys are an error.
func (l *Loader) Load() (File, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read sources file: %w", err)
	}

	// Secrets such as repository credentials in urls come from the
	// environment: {{URNH_VAR_NAME}} is replaced by $URNH_VAR_NAME.
	data, err = expandTemplateVariables(data, l.lookup)
	if err != nil {
		return File{}, err
	}

	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse sources yaml: %w", err)
	}

	return file, nil
}

var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// expandTemplateVariables substitutes {{NAME}} with the value of NAME.
// Unset variables are an error.
func expandTemplateVariables(data []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := templateVar.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(templateVar.FindSubmatch(m)[1])
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("sources file references unset variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
