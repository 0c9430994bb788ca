package config

import (
	"reflect"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
)

// Validator is an optional interface that configuration structs may
// implement for custom validation logic. If the struct passed to
// [Loader.Load] implements Validator, its Validate method is called after
// tag-based `required` validation succeeds.
//
// Validate should return an error describing the first validation failure,
// or nil. Errors that are already *[luerr.Error] are returned as-is; other
// errors are wrapped with [luerr.CodeValidation].
//
// Example:
//
//	type CodecConfig struct {
//	    HS256Secret config.Secret `env:"HS256_SECRET" yaml:"hs256_secret"`
//	}
//
//	func (c *CodecConfig) Validate() error {
//	    if len(c.HS256Secret.Value()) < 32 {
//	        return luerr.Validation("hs256 secret must be at least 32 bytes")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate performs tag-based required validation and then invokes the
// Validator interface if the config struct implements it.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isStructured := luerr.AsError(err); isStructured {
				return err
			}
			return luerr.Wrap(err, luerr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

// validateRequired recursively checks that all fields tagged with
// `required:"true"` hold non-zero values. The path parameter tracks the
// dotted field path for error messages (e.g., "Codec.Issuer").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return luerr.Newf(luerr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
