// Package validate compiles and applies one JSON Schema per task type
// against the opaque `config` payload taskservice.Create receives.
// Grounded on the teacher's internal/services.Validator, which loads a
// directory of capability schema files and compiles an input_schema per
// capability with santhosh-tekuri/jsonschema/v5; generalized here from
// capability input/output pairs to a single per-TaskType config schema,
// since a Task's config is hard-rejected at creation and its output shape
// is owned by the Provider contract, not this package.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/inaiurai/mediatasks/internal/models"
)

// ErrValidation wraps every schema-mismatch error so callers can detect
// validation failures with errors.Is regardless of task type.
var ErrValidation = errors.New("validate: config does not match schema")

// Validator holds one compiled schema per models.TaskType.
type Validator struct {
	schemas map[models.TaskType]*jsonschema.Schema
}

// NewValidator compiles every "<task_type>.json" file in schemaDir. A
// TaskType in the catalog with no matching file is left unvalidated:
// ValidateConfig is then a no-op for it, unlike the teacher, which
// requires a schema for every capability.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("validate: read schema dir %q: %w", schemaDir, err)
	}

	schemas := make(map[models.TaskType]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		taskType := models.TaskType(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("validate: read %q: %w", path, err)
		}
		schemaID := "https://mediatasks.dev/schemas/" + string(taskType) + ".config.json"
		schema, err := jsonschema.CompileString(schemaID, string(data))
		if err != nil {
			return nil, fmt.Errorf("validate: compile schema for %q: %w", taskType, err)
		}
		schemas[taskType] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// ValidateConfig hard-rejects config against taskType's schema, if one was
// loaded. An empty config schema directory or a task type with no file
// under it both mean no constraint at all: the payload is not parsed, so
// it need not even be valid JSON.
func (v *Validator) ValidateConfig(taskType models.TaskType, config json.RawMessage) error {
	schema, ok := v.schemas[taskType]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(config, &doc); err != nil {
		return fmt.Errorf("validate: invalid JSON config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
