package trust

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ FocusTarget = (*fakeBackend)(nil)

// fakeBackend records every call that reaches it.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	cwd       string
	cwdOK     bool
	fg        string
	fgOK      bool
	watching  bool
	spawnErr  error
	lastSpawn Spawn
	active    string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Spawn(_ context.Context, cmd Spawn) error {
	f.record("spawn")
	f.lastSpawn = cmd
	return f.spawnErr
}
func (f *fakeBackend) Write(string, []byte) error { f.record("write"); return nil }
func (f *fakeBackend) Resize(string, int, int) error {
	f.record("resize")
	return nil
}
func (f *fakeBackend) Kill(string) error { f.record("kill"); return nil }
func (f *fakeBackend) GetCwd(string) (string, bool) {
	f.record("getCwd")
	return f.cwd, f.cwdOK
}
func (f *fakeBackend) GetForegroundProcess(context.Context, string) (string, bool) {
	f.record("getForegroundProcess")
	return f.fg, f.fgOK
}
func (f *fakeBackend) Watch(string, string) (bool, error) {
	f.record("watch")
	return f.watching, nil
}
func (f *fakeBackend) Unwatch(string) { f.record("unwatch") }
func (f *fakeBackend) ReadFile(string) (FileContent, error) {
	f.record("readFile")
	return FileContent{Data: []byte("hi"), MimeType: "text/plain; charset=utf-8", Size: 2}, nil
}
func (f *fakeBackend) SetActive(id string) {
	f.record("setActive")
	f.active = id
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ObserveRequest(command, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[command+"/"+outcome]++
}

func newTestGateway(policy Policy) (*Gateway, *fakeBackend, *countingRecorder) {
	backend := &fakeBackend{}
	rec := &countingRecorder{}
	gw := NewGateway(policy, Backends{
		Sessions: backend,
		Watches:  backend,
		Files:    backend,
		Focus:    backend,
	}, rec, nil)
	return gw, backend, rec
}

// validParams holds a well-formed request for every command.
var validParams = map[string]string{
	CmdSpawn:                `{"session_id":"s1","cwd":"/tmp"}`,
	CmdWrite:                `{"session_id":"s1","data":"echo hi\r"}`,
	CmdResize:               `{"session_id":"s1","cols":80,"rows":24}`,
	CmdKill:                 `{"session_id":"s1"}`,
	CmdGetCwd:               `{"session_id":"s1"}`,
	CmdGetForegroundProcess: `{"session_id":"s1"}`,
	CmdWatchStart:           `{"session_id":"s1","directory":"/tmp"}`,
	CmdWatchStop:            `{"session_id":"s1"}`,
	CmdReadFile:             `{"path":"/tmp/x"}`,
	CmdFocus:                `{"session_id":"s1"}`,
}

var trusted = &Sender{URL: "app://ptyhost/index.html", MainFrame: true}

func TestDispatch_UntrustedSenderNeverReachesBackends(t *testing.T) {
	senders := []*Sender{
		nil,
		{URL: "https://evil.example/", MainFrame: true},
		{URL: "app://ptyhost/index.html", MainFrame: false},
		{URL: "", MainFrame: true},
	}

	for _, sender := range senders {
		for _, name := range Names() {
			gw, backend, _ := newTestGateway(packaged)
			result, err := gw.Dispatch(context.Background(), sender, name, json.RawMessage(validParams[name]))
			require.Error(t, err, name)
			assert.True(t, errors.Is(err, ErrUnauthorizedSender), name)
			assert.Equal(t, "unauthorized sender", err.Error())
			assert.Nil(t, result)
			assert.Empty(t, backend.Calls(), name)
		}
	}
}

func TestDispatch_AmbiguousModeRejectsEverything(t *testing.T) {
	gw, backend, _ := newTestGateway(Policy{EntryURL: "app://ptyhost/index.html"})
	for _, name := range Names() {
		_, err := gw.Dispatch(context.Background(), trusted, name, json.RawMessage(validParams[name]))
		assert.ErrorIs(t, err, ErrUnauthorizedSender)
	}
	assert.Empty(t, backend.Calls())
}

func TestDispatch_SenderCheckedBeforeParams(t *testing.T) {
	gw, _, _ := newTestGateway(packaged)
	evil := &Sender{URL: "https://evil.example/", MainFrame: true}
	_, err := gw.Dispatch(context.Background(), evil, CmdResize, json.RawMessage(`{"cols":0}`))
	assert.ErrorIs(t, err, ErrUnauthorizedSender)
}

func TestDispatch_InvalidParamsNeverReachBackends(t *testing.T) {
	gw, backend, rec := newTestGateway(packaged)
	_, err := gw.Dispatch(context.Background(), trusted, CmdResize, json.RawMessage(`{"session_id":"s1","cols":501,"rows":24}`))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.True(t, IsRejection(err))
	assert.NotEmpty(t, Stack(err))
	assert.Empty(t, backend.Calls())
	assert.Equal(t, 1, rec.outcomes[CmdResize+"/invalid"])
}

func TestDispatch_ForwardsTypedArguments(t *testing.T) {
	gw, backend, rec := newTestGateway(packaged)
	for _, name := range Names() {
		_, err := gw.Dispatch(context.Background(), trusted, name, json.RawMessage(validParams[name]))
		require.NoError(t, err, name)
	}
	assert.Equal(t, []string{
		"spawn", "write", "resize", "kill", "getCwd", "getForegroundProcess",
		"watch", "unwatch", "readFile", "setActive",
	}, backend.Calls())
	assert.Equal(t, Spawn{SessionID: "s1", Cwd: "/tmp", Cols: DefaultCols, Rows: DefaultRows}, backend.lastSpawn)
	assert.Equal(t, "s1", backend.active)
	assert.Equal(t, 1, rec.outcomes[CmdSpawn+"/ok"])
}

func TestDispatch_Results(t *testing.T) {
	gw, backend, _ := newTestGateway(packaged)

	result, err := gw.Dispatch(context.Background(), trusted, CmdGetCwd, json.RawMessage(validParams[CmdGetCwd]))
	require.NoError(t, err)
	assert.Nil(t, result.(CwdResult).Cwd)

	backend.cwd, backend.cwdOK = "/home/u", true
	result, err = gw.Dispatch(context.Background(), trusted, CmdGetCwd, json.RawMessage(validParams[CmdGetCwd]))
	require.NoError(t, err)
	require.NotNil(t, result.(CwdResult).Cwd)
	assert.Equal(t, "/home/u", *result.(CwdResult).Cwd)

	backend.fg, backend.fgOK = "vim", true
	result, err = gw.Dispatch(context.Background(), trusted, CmdGetForegroundProcess, json.RawMessage(validParams[CmdGetForegroundProcess]))
	require.NoError(t, err)
	assert.Equal(t, "vim", *result.(ForegroundResult).Name)

	backend.watching = true
	result, err = gw.Dispatch(context.Background(), trusted, CmdWatchStart, json.RawMessage(validParams[CmdWatchStart]))
	require.NoError(t, err)
	assert.Equal(t, WatchResult{Watching: true}, result)

	encoded, err := json.Marshal(CwdResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cwd":null}`, string(encoded))
}

func TestDispatch_SurfacesBackendErrors(t *testing.T) {
	gw, backend, rec := newTestGateway(packaged)
	backend.spawnErr = errors.New("fork/exec /nope: no such file or directory")

	_, err := gw.Dispatch(context.Background(), trusted, CmdSpawn, json.RawMessage(validParams[CmdSpawn]))
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.Equal(t, 1, rec.outcomes[CmdSpawn+"/error"])
}

func TestDispatch_UnknownCommandRecordedAsUnknown(t *testing.T) {
	gw, _, rec := newTestGateway(packaged)
	_, err := gw.Dispatch(context.Background(), trusted, "shell.exec", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, 1, rec.outcomes["unknown/invalid"])
}

func TestDispatch_RejectionsLogStack(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	backend := &fakeBackend{}
	gw := NewGateway(packaged, Backends{Sessions: backend, Watches: backend, Files: backend, Focus: backend}, nil, zap.New(core))

	evil := &Sender{URL: "https://evil.example/", MainFrame: true}
	_, err := gw.Dispatch(context.Background(), evil, CmdKill, json.RawMessage(`{"session_id":"s1"}`))
	require.Error(t, err)
	_, err = gw.Dispatch(context.Background(), trusted, CmdResize, json.RawMessage(`{"session_id":"s1","cols":0,"rows":24}`))
	require.Error(t, err)

	for _, msg := range []string{"rejected request from untrusted sender", "rejected request with invalid parameters"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		stack, ok := entries[0].ContextMap()["stack"].(string)
		require.True(t, ok, msg)
		assert.Contains(t, stack, "(*Gateway).Dispatch", msg)
	}
}
