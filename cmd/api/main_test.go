package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsStartupErrors(t *testing.T) {
	t.Run("bad config", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "oracle")

		err := run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("bad redis url", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "sqlite")
		t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "library.db"))
		t.Setenv("REDIS_URL", "ftp://not-redis")

		err := run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
	})
}
