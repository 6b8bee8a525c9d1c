package utils

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]*$`)
)

// FieldError is a single failed validation rule
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (e FieldError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("failed %s=%s", e.Rule, e.Param)
	}
	return fmt.Sprintf("failed %s", e.Rule)
}

// Validator returns the shared struct validator.
// Field names in errors follow the json tag of the field.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("ref", func(fl validator.FieldLevel) bool {
			return refPattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidateStruct validates s and returns the first failing field, or nil
func ValidateStruct(s interface{}) *FieldError {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return &FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()}
	}
	return &FieldError{Field: "request", Rule: err.Error()}
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, ""))
}
