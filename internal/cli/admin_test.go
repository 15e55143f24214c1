package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/floodsync/internal/engine"
	"github.com/roach88/floodsync/internal/ir"
)

func adminEnviron(t *testing.T) []string {
	t.Helper()
	hash, err := engine.HashPassword("s3cret")
	require.NoError(t, err)
	return []string{
		"FLOODSYNC_ADMIN_USERNAME=admin",
		"FLOODSYNC_ADMIN_PASSWORD_HASH=" + hash,
	}
}

func TestAdminForbiddenWithoutConfiguration(t *testing.T) {
	resp, err := runJSON(t, tempDB(t), nil, "admin", "stats", "--user", "admin", "--password", "s3cret")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestAdminForbiddenWithWrongPassword(t *testing.T) {
	resp, err := runJSON(t, tempDB(t), adminEnviron(t), "admin", "stats", "--user", "admin", "--password", "guess")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestAdminStatsAndDelete(t *testing.T) {
	db := tempDB(t)
	environ := adminEnviron(t)
	creds := []string{"--user", "admin", "--password", "s3cret"}

	resp, err := runJSON(t, db, environ, append([]string{"admin", "stats"}, creds...)...)
	require.NoError(t, err)
	var st ir.Stats
	decodeData(t, resp, &st)
	assert.Equal(t, ir.Stats{Total: 2, Active: 2, Medical: 1}, st)

	_, err = runJSON(t, db, environ, append([]string{"admin", "delete-sos", "seed-2"}, creds...)...)
	require.NoError(t, err)

	resp, err = runJSON(t, db, environ, append([]string{"admin", "stats"}, creds...)...)
	require.NoError(t, err)
	decodeData(t, resp, &st)
	assert.Equal(t, ir.Stats{Total: 1, Active: 1}, st)

	resp, err = runJSON(t, db, environ, append([]string{"admin", "delete-sos", "seed-2"}, creds...)...)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	stdout, _, err := runCLI(t, db, environ, append([]string{"admin", "delete-rescuer", "204"}, creds...)...)
	require.NoError(t, err)
	assert.Equal(t, "✓ deleted 204\n", stdout)

	resp, err = runJSON(t, db, nil, "league")
	require.NoError(t, err)
	var entries []LeagueEntry
	decodeData(t, resp, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "117", entries[1].ID)
}

func TestAdminHashPassword(t *testing.T) {
	stdout, _, err := runCLI(t, tempDB(t), nil, "admin", "hash-password", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(stdout)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}
