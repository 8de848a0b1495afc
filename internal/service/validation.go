package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
)

// CONSTRAINT TABLE:
// Request constraints are declared as `validate:"..."` struct tags on the
// input types (RegisterInput, TaskInput, ...) and evaluated here before any
// store access. Field names in error output come from the json tag, so a
// client sees "due_date", not "DueDate".

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// bcryptmax limits bytes, not runes: bcrypt reads at most 72 bytes, and
	// "max" would let a short non-ASCII password through.
	if err := v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	}); err != nil {
		panic(err)
	}
	return v
}

// validateStruct runs the constraint table for in and converts failures into
// an apperror validation error with one message per offending field.
func validateStruct(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("service: validating input: %w", err)
	}

	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], fieldMessage(fe))
	}
	return apperror.ValidationFields(fields)
}

// fieldMessage renders one failed constraint as the sentence the mobile
// client shows under the input, e.g. "The title field is required.".
func fieldMessage(fe validator.FieldError) string {
	name := strings.ReplaceAll(fe.Field(), "_", " ")

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", name)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", name)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", name, fe.Param())
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", name, fe.Param())
	case "bcryptmax":
		return fmt.Sprintf("The %s field must not be greater than %d bytes.", name, auth.MaxPasswordBytes)
	case "eqfield":
		return fmt.Sprintf("The %s field confirmation does not match.", name)
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", name)
	case "datetime":
		return fmt.Sprintf("The %s field must be a valid date.", name)
	default:
		return fmt.Sprintf("The %s field is invalid.", name)
	}
}
