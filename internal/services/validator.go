package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	SchemaFundingRequest = "funding_request"
	SchemaMilestoneProof = "milestone_proof"
	SchemaInvestment     = "investment"
)

// Validator compiles the JSON schemas shipped under schemas/ and checks
// request payloads against them before they reach the services.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json schema files from schemaDir and compiles them.
// Schema names are the file names without the version suffix
// (funding_request.v1.json registers as "funding_request").
func NewValidator(ctx context.Context, schemaDir string) (*Validator, error) {
	_ = ctx
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		name = strings.TrimSuffix(name, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		id := "https://nilefi.dev/schemas/" + name
		schemas[name], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks doc against the named schema. Schema violations wrap
// ErrValidation so handlers can map them to 422.
func (v *Validator) Validate(ctx context.Context, name string, doc json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var parsed interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
