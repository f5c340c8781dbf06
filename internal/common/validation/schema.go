// internal/common/validation/schema.go
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// stepSubmissionSchema validates the desired selector/action list of a step
// submission before reconciliation is started. A malformed payload never
// reaches the reconciler.
const stepSubmissionSchema = `{
	"type": "object",
	"properties": {
		"selectors": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"userService":  {"type": "string", "minLength": 1},
					"userCategory": {"type": "string"},
					"what":         {"type": "string"},
					"when":         {"type": "string"}
				},
				"required": ["userService"],
				"additionalProperties": false
			}
		}
	},
	"required": ["selectors"],
	"additionalProperties": true
}`

// recordCreateSchema validates record creation requests.
const recordCreateSchema = `{
	"type": "object",
	"properties": {
		"code":  {"type": "string"},
		"kind":  {"type": "string", "enum": ["fps", "tag"]},
		"title": {"type": "string", "minLength": 1}
	},
	"required": ["kind", "title"],
	"additionalProperties": false
}`

// validateSchema compiles lazily; invalid schema constants are programmer
// errors and surface on first use.
var (
	stepLoader   = gojsonschema.NewStringLoader(stepSubmissionSchema)
	recordLoader = gojsonschema.NewStringLoader(recordCreateSchema)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateStepSubmission checks a step-submission body against the schema.
func ValidateStepSubmission(body []byte) (*ValidationResult, error) {
	return validate(stepLoader, body)
}

// ValidateRecordCreate checks a record creation body against the schema.
func ValidateRecordCreate(body []byte) (*ValidationResult, error) {
	return validate(recordLoader, body)
}

func validate(schema gojsonschema.JSONLoader, body []byte) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return out, nil
}

// ErrorSummary flattens validation errors into one detail string.
func (r *ValidationResult) ErrorSummary() string {
	if r.Valid {
		return ""
	}
	summary := ""
	for i, e := range r.Errors {
		if i > 0 {
			summary += "; "
		}
		summary += fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return summary
}
