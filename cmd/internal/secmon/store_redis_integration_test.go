package secmon

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vigil/cmd/internal/ids"
)

func TestRedisStore(t *testing.T) {
	url := os.Getenv("VIGIL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VIGIL_TEST_REDIS_URL not set")
	}

	id, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	prefix := "vigil:test:" + strings.ToLower(id) + ":"

	s, err := OpenRedisStore(url, prefix, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})

	storeTests(t, s, "2001:db8::7")
}

func TestOpenRedisStore_RejectsBadURL(t *testing.T) {
	_, err := OpenRedisStore("http://localhost", "p:", time.Hour)
	require.Error(t, err)
}
