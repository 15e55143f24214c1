package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/floodsync/internal/engine"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]string{"result": "success"}, nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccessUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Success(42, func(w io.Writer) { fmt.Fprintln(w, "forty-two") })
	require.NoError(t, err)
	assert.Equal(t, "forty-two\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success(42, nil))
	assert.Equal(t, "42\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error("NOT_FOUND", "SOS not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "SOS not found", resp.Error.Message)
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error("E1", "boom", "extra"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E1]: boom")
	assert.Contains(t, errOut.String(), "Details: extra")
}

func TestOutputFormatter_FailEngineError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &engine.SyncError{Code: engine.ErrCodeTerminalStatus, Op: "mark_safe", ID: "sos-1", Message: "SOS is SAFE"}
	err := formatter.Fail(cause)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, cause))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "TERMINAL_STATUS", resp.Error.Code)
	assert.Equal(t, map[string]any{"op": "mark_safe", "id": "sos-1"}, resp.Error.Details)
}

func TestOutputFormatter_FailKeepsExitCode(t *testing.T) {
	formatter := &OutputFormatter{Format: "text", Writer: io.Discard}

	err := formatter.Fail(NewExitError(ExitCommandError, "bad flags"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "UNKNOWN_RESCUER", ErrorCode(&engine.SyncError{Code: engine.ErrCodeUnknownRescuer}))
	assert.Equal(t, "COMMAND_ERROR", ErrorCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, "FAILED", ErrorCode(errors.New("x")))
}

func TestExitError(t *testing.T) {
	err := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", err.Error())
	assert.Equal(t, "inner", errors.Unwrap(err).Error())
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
