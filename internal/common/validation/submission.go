// internal/common/validation/submission.go

// Package validation checks inbound submission payloads against a JSON
// schema before anything touches the database.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	stderrors "civigo/internal/common/errors"
)

// submissionSchema is the contract for the portal submit operation. Identity
// fields are required; contact fields are optional but typed, and at least
// one document reference must be present.
var submissionSchema = map[string]interface{}{
	"type":                 "object",
	"required":             []interface{}{"applicant", "documents"},
	"additionalProperties": false,
	"properties": map[string]interface{}{
		"applicant": map[string]interface{}{
			"type":                 "object",
			"required":             []interface{}{"name", "age", "address"},
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"name":    map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 200},
				"age":     map[string]interface{}{"type": "integer", "minimum": 18, "maximum": 120},
				"address": map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 500},
				"email":   map[string]interface{}{"type": "string", "format": "email"},
				"phone":   map[string]interface{}{"type": "string", "pattern": "^[0-9+\\-() ]{7,20}$"},
			},
		},
		"documents": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"maxItems": 20,
			"items": map[string]interface{}{
				"type":                 "object",
				"required":             []interface{}{"id", "blobRef"},
				"additionalProperties": false,
				"properties": map[string]interface{}{
					"id":      map[string]interface{}{"type": "string", "minLength": 1},
					"blobRef": map[string]interface{}{"type": "string", "minLength": 1},
				},
			},
		},
	},
}

// ValidateSubmission checks a decoded submit payload against the schema.
func ValidateSubmission(payload map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(submissionSchema)
	documentLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return stderrors.NewValidationFailedError(fmt.Sprintf("schema evaluation: %v", err))
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return stderrors.NewValidationFailedError(strings.Join(errs, "; "))
	}
	return nil
}
