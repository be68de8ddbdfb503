// Package validator validates request bodies with go-playground/validator and
// reports failures under the field's JSON name.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Validator is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// ValidationError is one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by Validate when at least one field fails.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// New returns a Validator that also understands the "scan_kind" and
// "severity" tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)

	must(v.RegisterValidation("scan_kind", parsesWith(scanjob.ParseKind)))
	must(v.RegisterValidation("severity", parsesWith(shared.ParseSeverity)))

	return &Validator{validate: v}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validate returns nil, ValidationErrors, or the validator's own error for
// input it cannot inspect (such as a nil pointer).
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = ValidationError{Field: fe.Field(), Message: message(fe)}
	}
	return out
}

// parsesWith accepts empty values so "required" stays the only presence check.
func parsesWith[T any](parse func(string) (T, error)) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := parse(s)
		return err == nil
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	case "scan_kind":
		return fmt.Sprintf("must be one of: %s, %s", scanjob.KindDiscovery, scanjob.KindComprehensive)
	case "severity":
		names := make([]string, 0, 4)
		for _, s := range shared.AllSeverities() {
			names = append(names, s.String())
		}
		return "must be one of: " + strings.Join(names, ", ")
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// jsonName reports a field by its JSON name, falling back to snake_case of
// the Go name for untagged fields.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return toSnakeCase(f.Name)
	default:
		return name
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
