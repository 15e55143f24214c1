package cli

import (
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/ir"
)

func TestLeagueText(t *testing.T) {
	stdout, _, err := runCLI(t, tempDB(t), nil, "league")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "league", []byte(stdout))
}

func TestRescueCreditsClaimedRescuer(t *testing.T) {
	db := tempDB(t)

	resp, err := runJSON(t, db, nil, "rescue", "seed-1", "--rescuer", "117")
	require.NoError(t, err)
	var res RescueResult
	decodeData(t, resp, &res)
	assert.Equal(t, ir.StatusRescued, res.SOS.Status)
	assert.Equal(t, "117", res.SOS.RescuerID)
	assert.Equal(t, "117", res.Rescuer.ID)
	assert.Equal(t, 16, res.Rescuer.RescuesCount)
	assert.False(t, res.Remote)

	resp, err = runJSON(t, db, nil, "league")
	require.NoError(t, err)
	var entries []LeagueEntry
	decodeData(t, resp, &entries)
	require.Len(t, entries, 3)
	assert.Equal(t, "000", entries[0].ID)
	assert.Equal(t, 42, entries[0].RescuesCount)
	assert.Equal(t, "117", entries[1].ID)
	assert.Equal(t, 16, entries[1].RescuesCount)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestRescueDefaultsToSincerePool(t *testing.T) {
	db := tempDB(t)

	stdout, _, err := runCLI(t, db, nil, "rescue", "seed-2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ SOS seed-2 rescued")
	assert.Contains(t, stdout, "credited: 000 Sincere Rescue Team (43 rescues)")
	assert.Contains(t, stdout, "saved locally")
}

func TestRescueRejections(t *testing.T) {
	db := tempDB(t)

	resp, err := runJSON(t, db, nil, "rescue", "seed-1", "--rescuer", "999")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "UNKNOWN_RESCUER", resp.Error.Code)

	// Nothing was written by the rejected attempt.
	resp, err = runJSON(t, db, nil, "sos", "show", "seed-1")
	require.NoError(t, err)
	var rec ir.SOSRequest
	decodeData(t, resp, &rec)
	assert.Equal(t, ir.StatusActive, rec.Status)

	_, err = runJSON(t, db, nil, "rescue", "seed-1")
	require.NoError(t, err)

	resp, err = runJSON(t, db, nil, "rescue", "seed-1", "--rescuer", "204")
	require.Error(t, err)
	assert.Equal(t, "TERMINAL_STATUS", resp.Error.Code)

	resp, err = runJSON(t, db, nil, "rescue", "missing")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestRescueMineAndRegister(t *testing.T) {
	db := tempDB(t)

	resp, err := runJSON(t, db, nil, "rescue", "seed-1", "--mine")
	require.Error(t, err)
	assert.Equal(t, "FAILED", resp.Error.Code)

	resp, err = runJSON(t, db, nil, "rescuer", "register", "--name", "Jane Tan", "--phone", "012-0000000", "--username", "jtan")
	require.NoError(t, err)
	var me ir.Rescuer
	decodeData(t, resp, &me)
	n, err := strconv.Atoi(me.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100)
	assert.LessOrEqual(t, n, 999)
	assert.Zero(t, me.RescuesCount)

	stdout, _, err := runCLI(t, db, nil, "rescuer", "me")
	require.NoError(t, err)
	assert.Equal(t, me.ID+" Jane Tan (@jtan) (0 rescues)\n", stdout)

	resp, err = runJSON(t, db, nil, "rescue", "seed-1", "--mine")
	require.NoError(t, err)
	var res RescueResult
	decodeData(t, resp, &res)
	assert.Equal(t, me.ID, res.Rescuer.ID)
	assert.Equal(t, 1, res.Rescuer.RescuesCount)

	_, _, err = runCLI(t, db, nil, "rescue", "seed-2", "--mine", "--rescuer", "117")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRescuerMeUnregistered(t *testing.T) {
	stdout, _, err := runCLI(t, tempDB(t), nil, "rescuer", "me")
	require.NoError(t, err)
	assert.Equal(t, "This device is not registered as a rescuer.\n", stdout)
}

func TestRescuerCheck(t *testing.T) {
	db := tempDB(t)

	stdout, _, err := runCLI(t, db, nil, "rescuer", "check", "000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "rescuer 000 is in the roster")

	_, _, err = runCLI(t, db, nil, "rescuer", "check", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
