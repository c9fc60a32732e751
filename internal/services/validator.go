package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kerjalink/backend/internal/models"
)

// ErrValidation marks schema violations so handlers can map them to 422.
var ErrValidation = errors.New("validation failed")

// createTaskSchema validates the create-task request body before any state
// mutation. The category and pricing enums are spliced in from the models
// enumerations so the schema and the Go constants cannot drift.
const createTaskSchemaTemplate = `{
	"type": "object",
	"required": ["title", "description", "category", "budget", "pricing_type", "search_method"],
	"properties": {
		"title": {"type": "string", "minLength": 3, "maxLength": 120},
		"description": {"type": "string", "minLength": 10, "maxLength": 5000},
		"category": {"type": "string", "enum": [CATEGORIES]},
		"location": {"type": "string", "maxLength": 200},
		"latitude": {"type": "number", "minimum": -90, "maximum": 90},
		"longitude": {"type": "number", "minimum": -180, "maximum": 180},
		"budget": {"type": "integer", "minimum": 1},
		"pricing_type": {"type": "string", "enum": [PRICING_TYPES]},
		"search_method": {"type": "string", "enum": ["publication", "find_worker"]},
		"start_date": {"type": "string", "format": "date-time"},
		"draft": {"type": "boolean"}
	},
	"additionalProperties": false
}`

// Validator checks create-task payloads against a compiled JSON schema.
type Validator struct {
	createTask *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	raw := strings.Replace(createTaskSchemaTemplate, "CATEGORIES", quotedList(models.Categories), 1)
	raw = strings.Replace(raw, "PRICING_TYPES", quotedList(models.PricingTypes), 1)

	schema, err := jsonschema.CompileString("https://kerjalink.dev/schemas/create-task", raw)
	if err != nil {
		return nil, fmt.Errorf("compile create-task schema: %w", err)
	}
	return &Validator{createTask: schema}, nil
}

func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}

// ValidateCreateTask rejects malformed create-task bodies before any state
// is touched; the caller can resubmit corrected input.
func (v *Validator) ValidateCreateTask(body []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := v.createTask.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
