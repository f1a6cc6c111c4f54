// internal/common/validation/submission_test.go

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"civigo/internal/common/errors"
)

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"applicant": map[string]interface{}{
			"name":    "Asha Verma",
			"age":     34,
			"address": "14 MG Road, Pune",
			"email":   "asha@example.com",
		},
		"documents": []interface{}{
			map[string]interface{}{"id": "doc-1", "blobRef": "blobs/doc-1.pdf"},
		},
	}
}

func TestValidateSubmission_Accepts(t *testing.T) {
	assert.NoError(t, ValidateSubmission(validPayload()))
}

func TestValidateSubmission_RequiresApplicantIdentity(t *testing.T) {
	payload := validPayload()
	delete(payload["applicant"].(map[string]interface{}), "address")

	err := ValidateSubmission(payload)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "address")
}

func TestValidateSubmission_RequiresDocuments(t *testing.T) {
	payload := validPayload()
	payload["documents"] = []interface{}{}

	err := ValidateSubmission(payload)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
}

func TestValidateSubmission_RejectsMinors(t *testing.T) {
	payload := validPayload()
	payload["applicant"].(map[string]interface{})["age"] = 15

	err := ValidateSubmission(payload)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
}

func TestValidateSubmission_RejectsUnknownFields(t *testing.T) {
	payload := validPayload()
	payload["serviceCategory"] = "LAND_RECORD" // category comes from classification, not the applicant

	err := ValidateSubmission(payload)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
}
