package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their YAML key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(messages, "; ")
}

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			errs.Errors = append(errs.Errors, ValidationError{
				Field:   fieldPath(e.Namespace()),
				Message: formatValidationMessage(e),
			})
		}
	}

	seen := make(map[string]bool)
	for i, pv := range c.Simulation.PVs {
		if pv.Name != "" && seen[pv.Name] {
			errs.Errors = append(errs.Errors, ValidationError{
				Field:   fmt.Sprintf("simulation.pvs[%d].name", i),
				Message: fmt.Sprintf("duplicate process variable %q", pv.Name),
			})
		}
		seen[pv.Name] = true
		if len(pv.Values) > pv.Count {
			errs.Errors = append(errs.Errors, ValidationError{
				Field:   fmt.Sprintf("simulation.pvs[%d].values", i),
				Message: fmt.Sprintf("%d values for %d elements", len(pv.Values), pv.Count),
			})
		}
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

func formatValidationMessage(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be below %s", field, yamlKey(e.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// fieldPath drops the root struct name from a validator namespace such as
// "Config.simulation.pvs[1].type".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// yamlKey names a cross-field parameter by its YAML key.
func yamlKey(goName string) string {
	switch goName {
	case "InitialMS":
		return "initial_ms"
	default:
		return goName
	}
}
