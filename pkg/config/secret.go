package config

// Secret is a string type that redacts its value in String(), GoString(),
// and MarshalText() to prevent accidental exposure in logs, JSON output, or
// fmt.Printf. It is used for the HS256 shared secret and for base64-encoded
// PEM private key material on configuration surfaces.
//
// The actual value is only accessible via [Secret.Value], which should be
// called only where the raw value is truly needed (e.g., passing to a
// cryptographic function).
type Secret string

// secretRedacted is the placeholder shown instead of the actual secret
// value when the secret is printed, formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder, preventing the secret from
// being printed via fmt.Println, log.Printf, or similar functions.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, preventing the secret from
// being printed via fmt.Printf("%#v", secret).
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the redacted
// placeholder so the secret never leaks into JSON or YAML serialization.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// UnmarshalText implements [encoding.TextUnmarshaler], allowing secrets to
// be read from YAML configuration files.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
