package trust

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, name, params string) (Command, error) {
	t.Helper()
	return Decode(name, json.RawMessage(params))
}

func requireInvalid(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidParameter), "got %v", err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, field, verr.Field)
	assert.Equal(t, "invalid parameter: "+field, err.Error())
}

func TestDecodeSpawn(t *testing.T) {
	cmd, err := decode(t, CmdSpawn, `{"session_id":"tab-1","cwd":"/home/u/src","shell":"/bin/zsh","login":true}`)
	require.NoError(t, err)
	assert.Equal(t, Spawn{
		SessionID: "tab-1",
		Cwd:       "/home/u/src",
		Shell:     "/bin/zsh",
		Cols:      DefaultCols,
		Rows:      DefaultRows,
		Login:     true,
	}, cmd)
}

func TestDecodeSpawnOptionalFields(t *testing.T) {
	cmd, err := decode(t, CmdSpawn, `{"session_id":"a","cwd":"/","shell":null,"cols":120,"rows":40}`)
	require.NoError(t, err)
	spawn := cmd.(Spawn)
	assert.Empty(t, spawn.Shell)
	assert.Equal(t, 120, spawn.Cols)
	assert.Equal(t, 40, spawn.Rows)
	assert.False(t, spawn.Login)
}

func TestDecodeResizeBounds(t *testing.T) {
	tests := []struct {
		cols, rows string
		field      string
	}{
		{"1", "1", ""},
		{"500", "500", ""},
		{"1", "500", ""},
		{"0", "24", "cols"},
		{"501", "24", "cols"},
		{"80", "0", "rows"},
		{"80", "501", "rows"},
		{"-1", "24", "cols"},
		{"80.5", "24", "cols"},
		{"1e2", "24", "cols"},
		{`"80"`, "24", "cols"},
		{"true", "24", "cols"},
		{"null", "24", "cols"},
		{"99999999999999999999", "24", "cols"},
	}

	for _, tt := range tests {
		t.Run(tt.cols+"x"+tt.rows, func(t *testing.T) {
			params := `{"session_id":"s1","cols":` + tt.cols + `,"rows":` + tt.rows + `}`
			cmd, err := decode(t, CmdResize, params)
			if tt.field == "" {
				require.NoError(t, err)
				assert.IsType(t, Resize{}, cmd)
				return
			}
			requireInvalid(t, err, tt.field)
		})
	}
}

func TestDecodeSessionIDShape(t *testing.T) {
	valid := []string{"s1", "tab-1", "A.b_c-9", strings.Repeat("a", MaxSessionIDLen)}
	for _, id := range valid {
		_, err := decode(t, CmdKill, `{"session_id":"`+id+`"}`)
		assert.NoError(t, err, id)
	}

	invalidIDs := []string{
		`""`, `"../etc"`, `".."`, `"a/b"`, `"a..b"`, `".hidden"`, `"-flag"`,
		`"a b"`, `"a\u0000b"`, `"` + strings.Repeat("a", MaxSessionIDLen+1) + `"`,
		`42`, `true`, `null`, `["s1"]`,
	}
	for _, id := range invalidIDs {
		_, err := decode(t, CmdKill, `{"session_id":`+id+`}`)
		requireInvalid(t, err, "session_id")
	}
}

func TestDecodeStrictBooleans(t *testing.T) {
	for _, v := range []string{`"true"`, `1`, `0`, `"yes"`, `{}`} {
		_, err := decode(t, CmdSpawn, `{"session_id":"s","cwd":"/","login":`+v+`}`)
		requireInvalid(t, err, "login")
	}
}

func TestDecodeWrite(t *testing.T) {
	cmd, err := decode(t, CmdWrite, `{"session_id":"s","data":"ls -la\r"}`)
	require.NoError(t, err)
	assert.Equal(t, Write{SessionID: "s", Data: "ls -la\r"}, cmd)

	// Empty input is a legal write.
	_, err = decode(t, CmdWrite, `{"session_id":"s","data":""}`)
	assert.NoError(t, err)

	_, err = decode(t, CmdWrite, `{"session_id":"s"}`)
	requireInvalid(t, err, "data")

	big := strings.Repeat("x", MaxWriteLen+1)
	_, err = decode(t, CmdWrite, `{"session_id":"s","data":"`+big+`"}`)
	requireInvalid(t, err, "data")
}

func TestDecodePaths(t *testing.T) {
	_, err := decode(t, CmdWatchStart, `{"session_id":"s","directory":"relative/dir"}`)
	requireInvalid(t, err, "directory")

	_, err = decode(t, CmdWatchStart, `{"session_id":"s","directory":""}`)
	requireInvalid(t, err, "directory")

	_, err = decode(t, CmdReadFile, `{"path":"/`+strings.Repeat("p", MaxPathLen)+`"}`)
	requireInvalid(t, err, "path")

	cmd, err := decode(t, CmdReadFile, `{"path":"/etc/hosts"}`)
	require.NoError(t, err)
	assert.Equal(t, ReadFile{Path: "/etc/hosts"}, cmd)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := decode(t, CmdKill, `{"session_id":"s","signal":"KILL"}`)
	requireInvalid(t, err, "signal")
}

func TestDecodeRejectsBadEnvelope(t *testing.T) {
	_, err := decode(t, "pty.exec", `{}`)
	requireInvalid(t, err, "type")

	_, err = decode(t, CmdKill, `["s"]`)
	requireInvalid(t, err, "params")

	_, err = decode(t, CmdKill, `{"session_id":`)
	requireInvalid(t, err, "params")

	_, err = decode(t, CmdKill, ``)
	requireInvalid(t, err, "session_id")
}

func TestDecodeFocus(t *testing.T) {
	cmd, err := decode(t, CmdFocus, `{}`)
	require.NoError(t, err)
	assert.Equal(t, Focus{}, cmd)

	cmd, err = decode(t, CmdFocus, `{"session_id":"s2"}`)
	require.NoError(t, err)
	assert.Equal(t, Focus{SessionID: "s2"}, cmd)

	_, err = decode(t, CmdFocus, `{"session_id":"../x"}`)
	requireInvalid(t, err, "session_id")
}

func TestNamesAreDecodable(t *testing.T) {
	for _, name := range Names() {
		_, ok := decoders[name]
		assert.True(t, ok, name)
	}
	assert.Len(t, decoders, len(Names()))
}
