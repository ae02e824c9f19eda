package engine

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// check validates in and returns an InputError naming the first failing field.
func check(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidf("invalid input")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return invalidf("%s is required", fe.Field())
	case "max":
		if fe.Kind() == reflect.String {
			return invalidf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return invalidf("%s must have at most %s entries", fe.Field(), fe.Param())
	case "min":
		return invalidf("%s must have at least %s entries", fe.Field(), fe.Param())
	default:
		return invalidf("%s is invalid", fe.Field())
	}
}
