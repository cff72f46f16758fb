// Package envcfg reads Vigil configuration from the environment and an optional .env file using Viper.
//
// Environment variables always win over .env entries. A missing .env file is ignored.
package envcfg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDotEnv is the file consulted by FromEnv.
const DefaultDotEnv = ".env"

// ErrInvalidValue is wrapped by every parse failure.
var ErrInvalidValue = errors.New("invalid config value")

// InvalidError reports the key whose value could not be parsed.
type InvalidError struct {
	Key   string
	Value string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %s=%q", ErrInvalidValue.Error(), e.Key, e.Value)
}

func (e *InvalidError) Unwrap() error { return ErrInvalidValue }

// Source is a read-only view over Viper.
type Source struct {
	v *viper.Viper
}

// Load builds a Source. When dotenv is non-empty the file is read as KEY=VALUE lines.
func Load(dotenv string) *Source {
	v := viper.New()
	if dotenv != "" {
		v.SetConfigFile(dotenv)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore missing file
	}
	v.AutomaticEnv()
	return &Source{v: v}
}

// FromEnv is Load(DefaultDotEnv).
func FromEnv() *Source { return Load(DefaultDotEnv) }

// Set overrides a key (tests and CLI flags).
func (s *Source) Set(key string, value any) {
	s.v.Set(key, value)
}

func (s *Source) raw(key string) string {
	if s == nil || s.v == nil {
		return ""
	}
	return strings.TrimSpace(s.v.GetString(key))
}

// String returns the trimmed value of key or def when unset.
func (s *Source) String(key, def string) string {
	if v := s.raw(key); v != "" {
		return v
	}
	return def
}

// Bool parses key with strconv.ParseBool.
func (s *Source) Bool(key string, def bool) (bool, error) {
	v := s.raw(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, &InvalidError{Key: key, Value: v}
	}
	return b, nil
}

// Int parses key as a base-10 int. Negative values are rejected.
func (s *Source) Int(key string, def int) (int, error) {
	v := s.raw(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def, &InvalidError{Key: key, Value: v}
	}
	return n, nil
}

// Int32 is Int bounded to int32.
func (s *Source) Int32(key string, def int32) (int32, error) {
	v := s.raw(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def, &InvalidError{Key: key, Value: v}
	}
	return int32(n), nil
}

// Float parses key as a non-negative float64.
func (s *Source) Float(key string, def float64) (float64, error) {
	v := s.raw(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def, &InvalidError{Key: key, Value: v}
	}
	return f, nil
}

// Duration parses key with time.ParseDuration. Zero and negative durations are rejected.
func (s *Source) Duration(key string, def time.Duration) (time.Duration, error) {
	v := s.raw(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, &InvalidError{Key: key, Value: v}
	}
	return d, nil
}
