package validate

import (
	"testing"

	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Status   string `json:"status" validate:"omitempty,oneof=a b"`
	Items    []item `json:"items" validate:"dive"`
}

type item struct {
	Label string `json:"label" validate:"max=3"`
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(sample{Email: "a@b.co", Password: "12345678"}))
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Email: "nope", Status: "c", Items: []item{{Label: "long"}}})
	require.Error(t, err)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Equal(t, 422, appErr.Status)

	fields := map[string]string{}
	for _, f := range appErr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "is required", fields["password"])
	assert.Equal(t, "must be one of [a b]", fields["status"])
	assert.Equal(t, "must be at most 3 characters", fields["items[0].label"])
}
