package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfigPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	old := settingsPath
	settingsPath = func() (string, error) { return path, nil }
	t.Cleanup(func() { settingsPath = old })
	return path
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "code": code})
}

// fakeAPI serves the session endpoints of the chat API.
type fakeAPI struct {
	turn      func(w http.ResponseWriter, r *http.Request, query string)
	history   []Turn
	cancelled atomic.Int32
	deleted   atomic.Int32
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, Session{ID: "s1", State: "idle"})
	})
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, Session{ID: r.PathValue("id"), State: "idle", Turns: f.history})
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deleted.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/turns", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.turn(w, r, req.Query)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.cancelled.Add(1)
		writeData(w, http.StatusOK, map[string]bool{"cancelled": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func answering(text string, refs ...Reference) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, query string) {
		writeData(w, http.StatusOK, Turn{ID: "t1", Kind: "answer", Query: query, Answer: text, References: refs, Grounded: len(refs) > 0})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *APIClient {
	c, err := NewAPIClientWithConfig(srv.URL, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	f := &fakeAPI{turn: func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeError(w, http.StatusConflict, "SESSION_BUSY", "a turn is already in progress for this session")
	}}
	c := newTestClient(t, f.server(t))

	_, err := c.SubmitTurn(context.Background(), "s1", "hello")
	require.Error(t, err)
	assert.True(t, HasCode(err, "SESSION_BUSY"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "SESSION_BUSY")
}

func TestAPIClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.CreateSession(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "bad gateway")
}

func TestAPIClient_SessionLifecycle(t *testing.T) {
	f := &fakeAPI{turn: answering("Two years.", Reference{Title: "warranty.md", Path: "https://kb/warranty.md"})}
	c := newTestClient(t, f.server(t))
	ctx := context.Background()

	s, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)

	turn, err := c.SubmitTurn(ctx, s.ID, "What is the warranty period?")
	require.NoError(t, err)
	assert.Equal(t, "Two years.", turn.Answer)
	assert.Equal(t, "What is the warranty period?", turn.Query)
	assert.False(t, turn.IsError())

	cancelled, err := c.CancelTurn(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, c.DeleteSession(ctx, s.ID))
	assert.Equal(t, int32(1), f.deleted.Load())
}

func TestNewAPIClientWithConfig_InvalidURL(t *testing.T) {
	_, err := NewAPIClientWithConfig("localhost", time.Second)
	assert.Error(t, err)
}

func TestResolveAPIURL_Cascade(t *testing.T) {
	useConfigPath(t)
	t.Setenv(envAPIURL, "")

	url, source, err := ResolveAPIURL(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, url)
	assert.Equal(t, SourceDefault, source)

	require.NoError(t, SaveSettings(&Settings{APIURL: "http://config:8080"}))
	url, source, err = ResolveAPIURL(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://config:8080", url)
	assert.Equal(t, SourceSettings, source)

	t.Setenv(envAPIURL, "http://env:8080")
	url, source, err = ResolveAPIURL(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://env:8080", url)
	assert.Equal(t, SourceEnv, source)

	cmd := &cobra.Command{}
	cmd.Flags().String("api-url", "", "")
	require.NoError(t, cmd.Flags().Set("api-url", "http://flag:8080"))
	url, source, err = ResolveAPIURL(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:8080", url)
	assert.Equal(t, SourceFlag, source)
}

func TestSettings_SaveAndLoad(t *testing.T) {
	path := useConfigPath(t)

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, settings)

	require.NoError(t, SaveSettings(&Settings{APIURL: "http://localhost:9090", Timeout: "90s"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	settings, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090", settings.APIURL)
	timeout, err := settings.RequestTimeout(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)

	assert.Error(t, SaveSettings(nil))
}

func TestSettings_RequestTimeout(t *testing.T) {
	var nilSettings *Settings
	d, err := nilSettings.RequestTimeout(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = (&Settings{Timeout: "soon"}).RequestTimeout(time.Minute)
	assert.Error(t, err)
	_, err = (&Settings{Timeout: "-5s"}).RequestTimeout(time.Minute)
	assert.Error(t, err)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := useConfigPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := LoadSettings()
	assert.Error(t, err)
}

func TestSettingsDir(t *testing.T) {
	dir, err := SettingsDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.True(t, strings.HasSuffix(dir, ".ragchat"))
}

func TestConfigCmd_SetGetShow(t *testing.T) {
	useConfigPath(t)
	t.Setenv(envAPIURL, "")

	run := func(args ...string) (string, error) {
		cmd := ConfigCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	_, err := run("set", "api_url", "http://chat.internal:8080")
	require.NoError(t, err)

	out, err := run("get", "api_url")
	require.NoError(t, err)
	assert.Equal(t, "http://chat.internal:8080\n", out)

	out, err = run("show", "--json")
	require.NoError(t, err)
	var shown map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "http://chat.internal:8080", shown["api_url"])
	assert.Equal(t, string(SourceSettings), shown["source"])

	_, err = run("set", "timeout", "45s")
	require.NoError(t, err)
	out, err = run("show")
	require.NoError(t, err)
	assert.Contains(t, out, "Timeout:     45s")

	_, err = run("set", "timeout", "forever")
	assert.Error(t, err)
	_, err = run("set", "colour", "blue")
	assert.Error(t, err)
	_, err = run("set", "api_url", "not-a-url")
	assert.Error(t, err)
}

func TestRenderTurn(t *testing.T) {
	var out bytes.Buffer
	renderTurn(&out, &Turn{
		Kind:       "answer",
		Answer:     "Two years. [warranty.md](https://kb/warranty.md)\n",
		References: []Reference{{Title: "warranty.md", Path: "https://kb/warranty.md"}},
	})
	assert.Equal(t, "Two years. [warranty.md](https://kb/warranty.md)\n\nSources:\n  - warranty.md (https://kb/warranty.md)\n", out.String())

	out.Reset()
	renderTurn(&out, &Turn{Kind: "error", ErrorCode: "CONTENT_FILTERED", ErrorMessage: "The response was filtered due to the prompt triggering a content management policy."})
	assert.Equal(t, "! CONTENT_FILTERED: The response was filtered due to the prompt triggering a content management policy.\n", out.String())

	out.Reset()
	renderTurn(&out, &Turn{Kind: "answer", Answer: "I could not find that.", Degraded: true})
	assert.Contains(t, out.String(), "answered without sources")
}

func newTestLoop(t *testing.T, f *fakeAPI, input string, turnCtx func(context.Context) (context.Context, context.CancelFunc)) (*chatLoop, *bytes.Buffer) {
	if turnCtx == nil {
		turnCtx = func(ctx context.Context) (context.Context, context.CancelFunc) { return context.WithCancel(ctx) }
	}
	var out bytes.Buffer
	return &chatLoop{
		client:      newTestClient(t, f.server(t)),
		in:          strings.NewReader(input),
		out:         &out,
		turnContext: turnCtx,
	}, &out
}

func TestChatLoop_AnswersAndHistory(t *testing.T) {
	f := &fakeAPI{
		turn: answering("Two years.", Reference{Title: "warranty.md", Path: "https://kb/warranty.md"}),
		history: []Turn{
			{Kind: "answer", Query: "What is the warranty period?", Answer: "Two years."},
			{Kind: "error", Query: "And returns?", ErrorCode: "GENERATION_TIMEOUT", ErrorMessage: "generation timed out"},
		},
	}
	loop, out := newTestLoop(t, f, "What is the warranty period?\n\n/history\n/exit\n", nil)

	require.NoError(t, loop.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "Session s1")
	assert.Contains(t, s, "Two years.\n\nSources:\n  - warranty.md")
	assert.Contains(t, s, "[1] > What is the warranty period?")
	assert.Contains(t, s, "[2] > And returns?\n! GENERATION_TIMEOUT: generation timed out")
	assert.Equal(t, int32(1), f.deleted.Load())
}

func TestChatLoop_EOFEndsSession(t *testing.T) {
	f := &fakeAPI{turn: answering("ok")}
	loop, _ := newTestLoop(t, f, "hello\n", nil)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, int32(1), f.deleted.Load())
}

func TestChatLoop_ErrorTurnKeepsLoopRunning(t *testing.T) {
	calls := 0
	f := &fakeAPI{turn: func(w http.ResponseWriter, _ *http.Request, query string) {
		calls++
		if calls == 1 {
			writeData(w, http.StatusOK, Turn{Kind: "error", Query: query, ErrorCode: "GENERATION_TIMEOUT", ErrorMessage: "generation timed out"})
			return
		}
		writeData(w, http.StatusOK, Turn{Kind: "answer", Query: query, Answer: "Second answer"})
	}}
	loop, out := newTestLoop(t, f, "first\nsecond\n", nil)

	require.NoError(t, loop.Run(context.Background()))
	assert.Contains(t, out.String(), "! GENERATION_TIMEOUT: generation timed out")
	assert.Contains(t, out.String(), "Second answer")
}

func TestChatLoop_RejectedSubmission(t *testing.T) {
	f := &fakeAPI{turn: func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeError(w, http.StatusConflict, "SESSION_BUSY", "a turn is already in progress for this session")
	}}
	loop, out := newTestLoop(t, f, "hello\n", nil)

	require.NoError(t, loop.Run(context.Background()))
	assert.Contains(t, out.String(), "still in progress")
}

func TestChatLoop_InterruptCancelsTurn(t *testing.T) {
	f := &fakeAPI{turn: func(w http.ResponseWriter, r *http.Request, _ string) {
		<-r.Context().Done()
	}}
	interrupt := func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, 50*time.Millisecond)
	}
	loop, out := newTestLoop(t, f, "slow question\n/exit\n", interrupt)

	require.NoError(t, loop.Run(context.Background()))
	assert.Contains(t, out.String(), "(cancelled)")
	assert.Equal(t, int32(1), f.cancelled.Load())
}

func TestAskCmd(t *testing.T) {
	useConfigPath(t)
	f := &fakeAPI{turn: answering("Two years.")}
	srv := f.server(t)
	t.Setenv(envAPIURL, srv.URL)

	cmd := AskCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--output", "json", "What", "is", "the", "warranty?"})
	require.NoError(t, cmd.Execute())

	var turn Turn
	require.NoError(t, json.Unmarshal(out.Bytes(), &turn))
	assert.Equal(t, "What is the warranty?", turn.Query)
	assert.Equal(t, "Two years.", turn.Answer)
}

func TestAskCmd_ErrorTurnFails(t *testing.T) {
	useConfigPath(t)
	f := &fakeAPI{turn: func(w http.ResponseWriter, _ *http.Request, query string) {
		writeData(w, http.StatusOK, Turn{Kind: "error", Query: query, ErrorCode: "RATE_LIMITED", ErrorMessage: "rate limited"})
	}}
	t.Setenv(envAPIURL, f.server(t).URL)

	cmd := AskCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"hello"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMITED")
	assert.Contains(t, out.String(), "! RATE_LIMITED: rate limited")
}
