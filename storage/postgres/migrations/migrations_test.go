package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_PairedUpAndDown(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", f)
		}
	}
	assert.Equal(t, ups, downs)
	assert.True(t, ups["000001_create_users"])
	assert.True(t, ups["000002_create_billing_webhook_events"])
}

func TestUsersSchemaHasCounterColumns(t *testing.T) {
	data, err := sqlFS.ReadFile("sql/000001_create_users.up.sql")
	require.NoError(t, err)
	schema := string(data)
	for _, col := range []string{"api_call_count_daily", "api_call_count_total", "last_api_call_reset", "cancellation_scheduled"} {
		assert.Contains(t, schema, col)
	}
}
