// Package config provides layered configuration loading for the Lumina auth
// core. Values are resolved in priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML config file        (medium priority)
//	Environment variables   (highest priority)
//
// Defaults are baked into the code, config files provide environment-specific
// overrides, and env vars (from ConfigMaps or Secrets in a Kubernetes
// deployment) take final precedence.
//
// # Struct Tags
//
// The loader uses three struct tags:
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails validation if the field remains zero after loading
//
// Fields must also carry `yaml` tags for file-based loading.
//
// # Usage
//
//	type ServerConfig struct {
//	    Issuer   string        `env:"ISSUER" envDefault:"lumina-auth" yaml:"issuer"`
//	    Audience string        `env:"AUDIENCE" yaml:"audience" required:"true"`
//	    TTL      time.Duration `env:"ACCESS_TTL" envDefault:"3h" yaml:"access_ttl"`
//	}
//
//	cfg := config.MustLoad[ServerConfig](
//	    config.New().WithEnvPrefix("LUMINA").WithFile("auth.yaml"),
//	)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
)

// durationType caches the reflect.Type for time.Duration. time.Duration has
// Kind() == Int64, so it must be distinguished from plain int64 fields.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader builds and executes configuration loading with a layered
// resolution strategy. Use [New] to create a Loader and configure it with
// [Loader.WithEnvPrefix] and [Loader.WithFile] before calling [Loader.Load].
//
// Loader is not safe for concurrent use. Create a new Loader for each Load
// call, or synchronize access externally.
type Loader struct {
	envPrefix string
	filePath  string
}

// New creates a new [Loader] with default settings: environment variables
// only, no file, no prefix.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets a prefix that is prepended (with an underscore
// separator) to all environment variable names derived from the "env"
// struct tag. The prefix is automatically uppercased; an empty prefix
// disables prefixing. Returns the Loader for fluent chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path to a YAML configuration file (.yaml or .yml).
// A missing file is not an error; file configuration is optional. The
// path must not contain directory traversal sequences ("..").
// Returns the Loader for fluent chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates the given struct pointer with configuration values
// resolved in priority order (highest wins):
//
//  1. envDefault struct tags
//  2. YAML file values (if configured with [Loader.WithFile])
//  3. Environment variables from "env" struct tags
//
// After loading, fields tagged `required:"true"` must hold non-zero
// values, and if the struct implements [Validator] its Validate method
// is called.
//
// Returns a *[luerr.Error] with code [luerr.CodeInternalConfiguration]
// for loading failures, or [luerr.CodeValidationRequired] /
// [luerr.CodeValidation] for validation failures.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return luerr.New(luerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return luerr.New(luerr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad is a generic convenience function that creates a zero-valued
// instance of T, loads configuration into it, and returns the populated
// value. It panics if loading or validation fails. Use MustLoad in
// application startup where an invalid configuration should prevent the
// process from starting.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile reads a YAML file and unmarshals it into the config struct.
// Missing files are silently ignored.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return luerr.New(luerr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return luerr.Wrapf(err, luerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return luerr.Wrapf(err, luerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	default:
		return luerr.Newf(luerr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml or .yml)", ext)
	}
	return nil
}

// applyDefaults recursively traverses the struct and sets fields to their
// envDefault tag values when the field holds its zero value.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return luerr.Wrapf(err, luerr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

// applyEnv recursively traverses the struct and sets fields from
// environment variables named by the "env" struct tag. For nested structs,
// the parent's env tag is prepended (joined with "_") to the child's tag.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nestedPrefix := prefix
			if envTag != "" {
				if nestedPrefix != "" {
					nestedPrefix = nestedPrefix + "_" + envTag
				} else {
					nestedPrefix = envTag
				}
			}
			if err := applyEnv(field, nestedPrefix); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return luerr.Wrapf(err, luerr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}
	return nil
}

// setField parses the string value and sets the reflect.Value according to
// its kind. Supported types: string (including named string types such as
// [Secret]), bool, signed integers, time.Duration, and []string
// (comma-separated, whitespace-trimmed).
func setField(field reflect.Value, value string) error {
	// time.Duration's underlying kind is int64 but needs ParseDuration.
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
