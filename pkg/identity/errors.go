package identity

import "fmt"

// ConfigErrorType represents the category of identity configuration error.
type ConfigErrorType int

const (
	ErrorTypeCertificate ConfigErrorType = iota
	ErrorTypePrivateKey
	ErrorTypeScheme
)

// ConfigError reports identity material that cannot become a working
// identity: malformed PEM text, unparseable key material, or no usable
// signature scheme. These arise only while an identity is constructed; a
// participant without a valid identity cannot safely join the protocol,
// so callers on the startup path treat them as fatal.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Cause   error
}

// Error returns the string representation of the configuration error.
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("identity config error (%s): %s: %v", e.typeString(), e.Message, e.Cause)
	}
	return fmt.Sprintf("identity config error (%s): %s", e.typeString(), e.Message)
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is matches any ConfigError of the same category, so the sentinels below
// work with errors.Is regardless of the specific message.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinel errors for use with errors.Is.
var (
	ErrNoCertificate     = &ConfigError{Type: ErrorTypeCertificate, Message: "no certificate found in PEM input"}
	ErrNoPrivateKey      = &ConfigError{Type: ErrorTypePrivateKey, Message: "no private key found in PEM input"}
	ErrNoSupportedScheme = &ConfigError{Type: ErrorTypeScheme, Message: "certificate supports no known signature scheme"}
)

func newConfigError(t ConfigErrorType, message string) *ConfigError {
	return &ConfigError{Type: t, Message: message}
}

func newConfigErrorCause(t ConfigErrorType, message string, cause error) *ConfigError {
	return &ConfigError{Type: t, Message: message, Cause: cause}
}

func (e *ConfigError) typeString() string {
	switch e.Type {
	case ErrorTypeCertificate:
		return "certificate"
	case ErrorTypePrivateKey:
		return "private_key"
	case ErrorTypeScheme:
		return "scheme"
	default:
		return "unknown"
	}
}
