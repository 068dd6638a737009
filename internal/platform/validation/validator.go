// Package validation wraps a singleton go-playground/validator instance with
// the custom tags used by request bodies.
//
// Custom tags:
//   - storeid: 2-32 lowercase ASCII letters or digits
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	storeIDPattern = regexp.MustCompile(`^[a-z0-9]{2,32}$`)
)

// IsStoreID reports whether s is a well-formed store identifier.
func IsStoreID(s string) bool {
	return storeIDPattern.MatchString(s)
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("storeid", func(fl validator.FieldLevel) bool {
			return IsStoreID(fl.Field().String())
		})
	})
	return validate
}

// Struct validates s and returns a single error whose message lists every
// failing field, or nil.
func Struct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, translate(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "storeid":
		return fmt.Sprintf("%s must be 2-32 lowercase letters or digits", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
