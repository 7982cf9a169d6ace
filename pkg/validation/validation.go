package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	v *validator.Validate

	// Dispute types we know how to build evidence requirements and document
	// plans for. "other" falls back to generic handling everywhere.
	knownDisputeTypes = map[string]bool{
		"tenancy_deposit":  true,
		"employment":       true,
		"consumer":         true,
		"unpaid_invoice":   true,
		"contract_breach":  true,
		"service_quality":  true,
		"other":            true,
	}
)

func init() {
	v = validator.New()

	// Use JSON tag as the field name in error output
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Custom: dispute type
	_ = v.RegisterValidation("disputetype", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(strings.ToLower(fl.Field().String()))
		if val == "" { // let omitempty handle empty
			return true
		}
		return knownDisputeTypes[val]
	})
}

// KnownDisputeType reports whether the engine has specific handling for the
// given dispute type.
func KnownDisputeType(t string) bool {
	return knownDisputeTypes[strings.TrimSpace(strings.ToLower(t))]
}

// Validate returns map[field][]messages (Laravel-like)
func Validate(s any) (map[string][]string, error) {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, err
		}
		out := make(map[string][]string)
		for _, e := range ve {
			field := e.Field() // already mapped from json tag

			switch e.Tag() {
			case "required":
				out[field] = append(out[field], "This field is required")

			case "email":
				out[field] = append(out[field], "Invalid email format")

			case "min":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at least %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be at least %s", e.Param()))
				}

			case "max":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at most %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be at most %s", e.Param()))
				}

			case "oneof":
				out[field] = append(out[field], "Value is not allowed")

			case "uuid", "uuid4":
				out[field] = append(out[field], "Invalid UUID format")

			case "disputetype":
				out[field] = append(out[field], "Unknown dispute type")

			default:
				// Fallback to original error text if we missed a tag
				out[field] = append(out[field], e.Error())
			}
		}
		return out, nil
	}
	return nil, nil
}
