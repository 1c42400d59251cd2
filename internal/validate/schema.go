package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"alertrank/pkg/models"
)

//go:embed schemas/alert_v1.json
var alertSchemaV1 string

// SchemaVersion is the native payload version accepted at the boundary.
const SchemaVersion = "1"

// AlertValidator validates native alert payloads against the embedded JSON schema.
type AlertValidator struct {
	schema *jsonschema.Schema
}

// NewAlertValidator compiles the embedded schema.
func NewAlertValidator() (*AlertValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource("alert_v1.json", bytes.NewReader([]byte(alertSchemaV1))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("alert_v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &AlertValidator{schema: schema}, nil
}

// Validate checks an already decoded document.
func (v *AlertValidator) Validate(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSchemaMismatch, err)
	}
	return nil
}

// Decode parses data with number precision preserved and validates it.
func (v *AlertValidator) Decode(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSchemaMismatch, err)
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: payload must be a JSON object", models.ErrSchemaMismatch)
	}
	if err := v.Validate(obj); err != nil {
		return nil, err
	}
	return obj, nil
}
