package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchPrintsInitialSnapshot(t *testing.T) {
	stdout, _, err := runCLI(t, tempDB(t), nil, "--format", "json", "watch", "--for", "1500ms", "--interval", "1s")
	require.NoError(t, err)

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	require.True(t, scanner.Scan(), "expected at least one update")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	var u WatchUpdate
	decodeData(t, resp, &u)
	assert.Equal(t, 2, u.Stats.Total)
	assert.Equal(t, 1, u.Stats.Medical)
	assert.Equal(t, 3, u.Rescuers)
	assert.Equal(t, "OPEN", u.Breaker)
	assert.Len(t, u.Hash, 64)
}

func TestWatchPrintsOnlyChanges(t *testing.T) {
	stdout, _, err := runCLI(t, tempDB(t), nil, "watch", "--for", "2500ms", "--interval", "1s")
	require.NoError(t, err)

	// Ticks over an unchanged cache print nothing new.
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "2 active (1 medical), 0 rescued, 0 safe, 3 rescuers  remote:OPEN")
}

func TestStatusRouter(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	a, err := openApp(context.Background(), &RootOptions{Format: "text", Database: tempDB(t), Environ: []string{}}, cmd)
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(statusRouter(a))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["remote"])
	assert.Equal(t, "OPEN", health["breaker"])

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body := &bytes.Buffer{}
	_, err = body.ReadFrom(res.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "floodsync_breaker_open")
}
