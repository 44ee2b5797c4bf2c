package base

import (
	"net/url"
	"strings"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/spf13/cast"
)

// ConfigError builds the configuration error for one field
func ConfigError(field, reason string) *errors.Error {
	return errors.Newf(errors.ErrorTypeConfig, "%s: %s", field, reason).
		WithDetail("field", field)
}

// RequireString returns a non-empty string field
func RequireString(cfg core.Config, field string) (string, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return "", ConfigError(field, "is required")
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", ConfigError(field, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ConfigError(field, "is required")
	}
	return s, nil
}

// OptionalString returns a string field or def when absent or empty
func OptionalString(cfg core.Config, field, def string) (string, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", ConfigError(field, "must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

// RequireURL returns an http(s) URL field without its trailing slash
func RequireURL(cfg core.Config, field string) (string, error) {
	raw, err := RequireString(cfg, field)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ConfigError(field, "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ConfigError(field, "must use http or https")
	}
	return strings.TrimRight(raw, "/"), nil
}

// OptionalInt returns an integer field or def when absent. Numbers decoded
// from JSON or YAML and numeric strings are accepted.
func OptionalInt(cfg core.Config, field string, def int) (int, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, ConfigError(field, "must be an integer")
	}
	return n, nil
}

// OptionalPositiveInt is OptionalInt rejecting zero and negative values
func OptionalPositiveInt(cfg core.Config, field string, def int) (int, error) {
	n, err := OptionalInt(cfg, field, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ConfigError(field, "must be greater than zero")
	}
	return n, nil
}

// OptionalBool returns a boolean field or def when absent
func OptionalBool(cfg core.Config, field string, def bool) (bool, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, ConfigError(field, "must be a boolean")
	}
	return b, nil
}

// OptionalStringMap returns a string-to-string map field, empty when absent
func OptionalStringMap(cfg core.Config, field string) (map[string]string, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	if nested, ok := v.(core.Config); ok {
		v = map[string]interface{}(nested)
	}
	m, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, ConfigError(field, "must be a map of strings")
	}
	return m, nil
}

// OptionalStringSlice returns a list-of-strings field, nil when absent
func OptionalStringSlice(cfg core.Config, field string) ([]string, error) {
	v, ok := cfg[field]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, ConfigError(field, "must be a list of strings")
	}
	return s, nil
}

// OneOf checks that value is one of the allowed choices
func OneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return ConfigError(field, "must be one of "+strings.Join(allowed, ", "))
}
