package envcfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_DefaultsWhenUnset(t *testing.T) {
	s := Load("")

	assert.Equal(t, "fallback", s.String("VIGIL_TEST_UNSET_STRING", "fallback"))

	b, err := s.Bool("VIGIL_TEST_UNSET_BOOL", true)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := s.Duration("VIGIL_TEST_UNSET_DURATION", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestSource_ReadsEnvironment(t *testing.T) {
	t.Setenv("VIGIL_TEST_STRING", "  hello ")
	t.Setenv("VIGIL_TEST_INT", "42")
	t.Setenv("VIGIL_TEST_DURATION", "90s")
	t.Setenv("VIGIL_TEST_FLOAT", "2.5")

	s := Load("")

	assert.Equal(t, "hello", s.String("VIGIL_TEST_STRING", ""))

	n, err := s.Int("VIGIL_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	d, err := s.Duration("VIGIL_TEST_DURATION", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	f, err := s.Float("VIGIL_TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f, 1e-9)
}

func TestSource_InvalidValues(t *testing.T) {
	t.Setenv("VIGIL_TEST_BAD_DURATION", "soon")
	t.Setenv("VIGIL_TEST_NEG_INT", "-3")
	t.Setenv("VIGIL_TEST_BAD_BOOL", "maybe")

	s := Load("")

	_, err := s.Duration("VIGIL_TEST_BAD_DURATION", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))

	var inv *InvalidError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "VIGIL_TEST_BAD_DURATION", inv.Key)

	_, err = s.Int("VIGIL_TEST_NEG_INT", 1)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = s.Bool("VIGIL_TEST_BAD_BOOL", false)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestSource_DotEnvFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("VIGIL_TEST_FROM_FILE=file\nVIGIL_TEST_OVERRIDE=file\n"), 0o600))

	t.Setenv("VIGIL_TEST_OVERRIDE", "env")

	s := Load(path)
	assert.Equal(t, "file", s.String("VIGIL_TEST_FROM_FILE", ""))
	assert.Equal(t, "env", s.String("VIGIL_TEST_OVERRIDE", ""))
}

func TestSource_MissingDotEnvIgnored(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Equal(t, "d", s.String("VIGIL_TEST_NOTHING", "d"))
}

func TestSource_SetOverrides(t *testing.T) {
	s := Load("")
	s.Set("VIGIL_TEST_SET", "7")
	n, err := s.Int("VIGIL_TEST_SET", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
