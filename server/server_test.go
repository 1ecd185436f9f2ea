package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance/sqlite"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/runner"
	"github.com/hupe1980/finmesh/tool"
)

type frame struct {
	event string
	data  runner.StreamEvent
}

func readFrames(t *testing.T, body io.Reader) []frame {
	t.Helper()
	var (
		frames []frame
		cur    frame
	)
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "" && cur.event != "":
			frames = append(frames, cur)
			cur = frame{}
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func newRunner(t *testing.T, llm model.Model, tools ...tool.Tool) *runner.Runner {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "finance.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return runner.New(agent.NewLoop(llm, tool.NewRegistry(tools...)), db)
}

func chatRequest(t *testing.T, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/chat", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderOrganization, "org-1")
	return req
}

func TestChat_StreamsEvents(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").Script(model.MockTurn{Text: "You are doing fine."})
	srv := httptest.NewServer(New(newRunner(t, llm)))
	defer srv.Close()

	resp, err := http.DefaultClient.Do(chatRequest(t, srv.URL, `{"chatId":"chat-1","message":"how am I doing?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	turnID := resp.Header.Get(HeaderTurnID)
	require.NotEmpty(t, turnID)

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.event)
	assert.Equal(t, agent.StopNoToolCalls, last.data.StopReason)

	var text strings.Builder
	for _, f := range frames {
		assert.Equal(t, turnID, f.data.TurnID)
		assert.Equal(t, f.event, string(f.data.Type))
		if f.data.Type == runner.EventText {
			text.WriteString(f.data.Text)
		}
	}
	assert.Equal(t, "You are doing fine.", text.String())
}

func TestChat_RejectsRequests(t *testing.T) {
	srv := httptest.NewServer(New(newRunner(t, model.NewMockModel("mock", "mock"))))
	defer srv.Close()

	tests := []struct {
		name   string
		body   string
		anon   bool
		status int
	}{
		{"anonymous", `{"chatId":"chat-1","message":"hi"}`, true, http.StatusUnauthorized},
		{"malformed", `{"chatId":`, false, http.StatusBadRequest},
		{"missing chat", `{"message":"hi"}`, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chatRequest(t, srv.URL, tt.body)
			if tt.anon {
				req.Header.Del(HeaderUserID)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	wait := tool.NewFunctionTool("wait", "", map[string]any{"type": "object"},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			started <- struct{}{}
			<-tc.Context().Done()
			return nil, tc.Context().Err()
		})
	llm := model.NewMockModel("mock", "mock").Repeat(model.MockTurn{ToolCalls: []core.FunctionCall{{Name: "wait"}}})
	srv := httptest.NewServer(New(newRunner(t, llm, wait), func(o *Options) { o.Heartbeat = 0 }))
	defer srv.Close()

	resp, err := http.DefaultClient.Do(chatRequest(t, srv.URL, `{"turnId":"turn-1","chatId":"chat-1","message":"wait for it"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "turn-1", resp.Header.Get(HeaderTurnID))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool did not start")
	}

	cancelReq := func(turnID, orgID string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat/"+turnID+"/cancel", nil)
		require.NoError(t, err)
		req.Header.Set(HeaderUserID, "user-1")
		req.Header.Set(HeaderOrganization, orgID)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}
	assert.Equal(t, http.StatusNotFound, cancelReq("turn-1", "org-2"), "turns of other organizations are invisible")
	assert.Equal(t, http.StatusAccepted, cancelReq("turn-1", "org-1"))

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, "done", frames[len(frames)-1].event)
	var codes []string
	for _, f := range frames {
		if f.event == "error" {
			codes = append(codes, f.data.Code)
		}
	}
	assert.Equal(t, []string{runner.CodeCancelled}, codes)

	assert.Equal(t, http.StatusNotFound, cancelReq("unknown", "org-1"))
}

func TestStream_Heartbeat(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newStream(rec, 5*time.Millisecond)
	events := make(chan runner.StreamEvent)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := s.pipe(ctx, events)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, rec.Body.String(), ": ping ")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(runner.ErrTurnActive))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(runner.ErrTooManyTurns))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
}
