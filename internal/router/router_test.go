package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoharbabin/video-exploratorium/internal/analysis"
	"github.com/zoharbabin/video-exploratorium/internal/kaltura"
	"github.com/zoharbabin/video-exploratorium/internal/llm"
	"github.com/zoharbabin/video-exploratorium/internal/progress"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

type sentEvent struct {
	RequestID string          `json:"request_id"`
	Stage     string          `json:"stage"`
	Data      json.RawMessage `json:"data"`
}

type fakeSender struct {
	mu       sync.Mutex
	events   []sentEvent
	attempts int
	err      error
}

func (s *fakeSender) Send(connectionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	var ev sentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSender) snapshot() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.events...)
}

type fakeSessions struct {
	valid bool
	pid   int64
	calls int
}

func (f *fakeSessions) ValidateSession(ctx context.Context, ks string) (bool, int64) {
	f.calls++
	return f.valid, f.pid
}

type fakeVideos struct {
	query kaltura.SearchQuery
}

func (f *fakeVideos) SearchVideos(ctx context.Context, ks string, query kaltura.SearchQuery) ([]kaltura.VideoInfo, error) {
	f.query = query
	return []kaltura.VideoInfo{{EntryID: "1_a", Name: "Intro"}}, nil
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error)
}

func (f *fakeAnalyzer) AnalyzeVideos(ctx context.Context, token string, videoIDs []string, emitter analysis.Emitter) (*analysis.Report, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, emitter)
	}
	report := &analysis.Report{}
	emitter.Emit(progress.StageCompleted, report)
	return report, nil
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAssistant struct{}

func (fakeAssistant) GenerateFollowupQuestions(ctx context.Context, transcripts map[string][]transcript.Line) (*llm.FollowupQuestionsResponse, error) {
	return &llm.FollowupQuestionsResponse{Questions: []llm.FollowupQuestion{{Question: "Why?"}}}, nil
}

func (fakeAssistant) AnswerQuestion(ctx context.Context, question string, transcripts map[string][]transcript.Line, history []string) (*llm.QAResponse, error) {
	return &llm.QAResponse{Answer: "because " + question}, nil
}

type fixture struct {
	router   *Router
	sender   *fakeSender
	sessions *fakeSessions
	videos   *fakeVideos
	analyzer *fakeAnalyzer
}

func newFixture() *fixture {
	f := &fixture{
		sender:   &fakeSender{},
		sessions: &fakeSessions{valid: true, pid: 123},
		videos:   &fakeVideos{},
		analyzer: &fakeAnalyzer{},
	}
	f.router = New(Dependencies{
		Sender:    f.sender,
		Sessions:  f.sessions,
		Videos:    f.videos,
		Analyzer:  f.analyzer,
		Assistant: fakeAssistant{},
		PageSize:  6,
	})
	return f
}

func message(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	if _, ok := fields["headers"]; !ok {
		fields["headers"] = map[string]string{AuthHeader: "123:validks"}
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func dataString(t *testing.T, ev sentEvent) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(ev.Data, &s))
	return s
}

func TestHandle_IgnoresMessagesWithoutAction(t *testing.T) {
	f := newFixture()
	f.router.Handle(context.Background(), "c1", []byte(`{"message": "Endpoint request timed out", "request_id": "r1"}`))
	f.router.Handle(context.Background(), "c1", []byte(`{"request_id": "r2"}`))

	assert.Empty(t, f.sender.snapshot())
	assert.Equal(t, 0, f.router.InFlight())
	assert.Equal(t, 0, f.sessions.calls)
}

func TestHandle_InvalidJSON(t *testing.T) {
	f := newFixture()
	f.router.Handle(context.Background(), "c1", []byte(`{not json`))

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Stage)
	assert.Equal(t, "Invalid message format", dataString(t, events[0]))
}

func TestHandle_DuplicateDroppedWhileProcessing(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.analyzer.run = func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error) {
		started <- struct{}{}
		<-release
		emitter.Emit(progress.StageCompleted, &analysis.Report{})
		return &analysis.Report{}, nil
	}

	raw := message(t, map[string]any{"action": ActionAnalyzeVideos, "request_id": "r1", "selectedVideos": []string{"v1"}})

	done := make(chan struct{})
	go func() {
		f.router.Handle(context.Background(), "c1", raw)
		close(done)
	}()
	<-started
	assert.Equal(t, 1, f.router.InFlight())

	// 处理中的重复请求被静默丢弃
	f.router.Handle(context.Background(), "c1", raw)
	assert.Equal(t, 1, f.analyzer.count())

	close(release)
	<-done
	assert.Equal(t, 0, f.router.InFlight())

	// 处理完成后同一 ID 可以再次提交
	f.analyzer.run = nil
	f.router.Handle(context.Background(), "c1", raw)
	assert.Equal(t, 2, f.analyzer.count())

	events := f.sender.snapshot()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "completed", ev.Stage)
		assert.Equal(t, "r1", ev.RequestID)
	}
}

func TestHandle_ReleasesOnFailure(t *testing.T) {
	f := newFixture()
	f.analyzer.run = func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error) {
		return &analysis.Report{}, analysis.ErrNoResults
	}

	raw := message(t, map[string]any{"action": ActionAnalyzeVideos, "request_id": "r1", "selectedVideos": []string{"v1"}})
	f.router.Handle(context.Background(), "c1", raw)
	f.router.Handle(context.Background(), "c1", raw)

	assert.Equal(t, 2, f.analyzer.count())
	assert.Equal(t, 0, f.router.InFlight())

	events := f.sender.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].Stage)
	assert.Equal(t, "No analysis results found", dataString(t, events[0]))
}

func TestHandle_ReleasesOnPanic(t *testing.T) {
	f := newFixture()
	f.analyzer.run = func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error) {
		panic("unexpected")
	}

	raw := message(t, map[string]any{"action": ActionAnalyzeVideos, "request_id": "r1", "selectedVideos": []string{"v1"}})
	assert.NotPanics(t, func() { f.router.Handle(context.Background(), "c1", raw) })
	assert.Equal(t, 0, f.router.InFlight())

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Stage)
	assert.Equal(t, "Internal server error", dataString(t, events[0]))
}

func TestHandle_AuthErrors(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		valid   bool
		want    string
	}{
		{"缺少认证头", map[string]string{}, true, "X-Authentication header is required"},
		{"格式错误", map[string]string{AuthHeader: "1:a:b"}, true, "Invalid X-Authentication header format, expected partner_id:kaltura_session"},
		{"ks 为空", map[string]string{AuthHeader: "123:"}, true, "Invalid X-Authentication header format, expected partner_id:kaltura_session"},
		{"会话无效", map[string]string{AuthHeader: "123:expired"}, false, "Invalid Kaltura session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.sessions.valid = tt.valid

			raw := message(t, map[string]any{
				"action":         ActionAnalyzeVideos,
				"request_id":     "r1",
				"headers":        tt.headers,
				"selectedVideos": []string{"v1"},
			})
			f.router.Handle(context.Background(), "c1", raw)

			events := f.sender.snapshot()
			require.Len(t, events, 1)
			assert.Equal(t, "error", events[0].Stage)
			assert.Equal(t, tt.want, dataString(t, events[0]))
			assert.Equal(t, 0, f.analyzer.count())
			assert.Equal(t, 0, f.router.InFlight())
		})
	}
}

func TestHandle_KSWithoutPartnerID(t *testing.T) {
	f := newFixture()
	raw := message(t, map[string]any{
		"action":     ActionGetVideos,
		"request_id": "r1",
		"headers":    map[string]string{AuthHeader: "onlyks"},
	})
	f.router.Handle(context.Background(), "c1", raw)

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "videos", events[0].Stage)
	assert.Equal(t, 1, f.sessions.calls)
}

func TestHandle_GetVideos(t *testing.T) {
	f := newFixture()
	raw := message(t, map[string]any{
		"action":     ActionGetVideos,
		"request_id": "r1",
		"categoryId": 42,
		"freeText":   " golang ",
	})
	f.router.Handle(context.Background(), "c1", raw)

	assert.Equal(t, kaltura.SearchQuery{CategoryIDs: "42", FreeText: "golang", PageSize: 6}, f.videos.query)

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "videos", events[0].Stage)

	var videos []kaltura.VideoInfo
	require.NoError(t, json.Unmarshal(events[0].Data, &videos))
	require.Len(t, videos, 1)
	assert.Equal(t, "1_a", videos[0].EntryID)
}

func TestHandle_UnsupportedAction(t *testing.T) {
	f := newFixture()
	f.router.Handle(context.Background(), "c1", message(t, map[string]any{"action": "chat", "request_id": "r1"}))

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "Unsupported action", dataString(t, events[0]))
	assert.Equal(t, 0, f.sessions.calls)
}

func TestHandle_GeneratesMissingRequestID(t *testing.T) {
	f := newFixture()
	f.router.Handle(context.Background(), "c1", message(t, map[string]any{"action": ActionGetVideos}))

	events := f.sender.snapshot()
	require.Len(t, events, 1)
	_, err := uuid.Parse(events[0].RequestID)
	assert.NoError(t, err)
}

func TestHandle_FollowupAndAnswer(t *testing.T) {
	f := newFixture()
	transcripts := map[string][]transcript.Line{"v1": {{StartTime: 0, EndTime: 1, Text: "hi"}}}

	f.router.Handle(context.Background(), "c1", message(t, map[string]any{
		"action":      ActionGenerateFollowupQuestions,
		"request_id":  "r1",
		"transcripts": transcripts,
	}))
	f.router.Handle(context.Background(), "c1", message(t, map[string]any{
		"action":       ActionAskQuestion,
		"request_id":   "r2",
		"question":     "what?",
		"transcripts":  transcripts,
		"chat_history": []string{"earlier"},
	}))
	f.router.Handle(context.Background(), "c1", message(t, map[string]any{
		"action":     ActionAskQuestion,
		"request_id": "r3",
	}))

	events := f.sender.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "followup_questions", events[0].Stage)
	assert.JSONEq(t, `{"questions":[{"question":"Why?"}]}`, string(events[0].Data))
	assert.Equal(t, "answer", events[1].Stage)
	assert.JSONEq(t, `{"answer":"because what?"}`, string(events[1].Data))
	assert.Equal(t, "error", events[2].Stage)
	assert.Equal(t, "question is required", dataString(t, events[2]))
}

func TestHandle_DisconnectCancelsRequest(t *testing.T) {
	f := newFixture()
	f.sender.err = progress.ErrDisconnected

	var ctxErr error
	f.analyzer.run = func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error) {
		emitter.Emit(progress.StageChunkProgress, nil)
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
		case <-time.After(time.Second):
		}
		return nil, ctx.Err()
	}

	raw := message(t, map[string]any{"action": ActionAnalyzeVideos, "request_id": "r1", "selectedVideos": []string{"v1"}})
	f.router.Handle(context.Background(), "c1", raw)

	assert.ErrorIs(t, ctxErr, context.Canceled)
	assert.Equal(t, 1, f.sender.attempts)
	assert.Equal(t, 0, f.router.InFlight())
}

func TestHandle_ConnectionClosedSendsNoError(t *testing.T) {
	f := newFixture()
	connCtx, closeConn := context.WithCancel(context.Background())

	started := make(chan struct{})
	f.analyzer.run = func(ctx context.Context, emitter analysis.Emitter) (*analysis.Report, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	raw := message(t, map[string]any{"action": ActionAnalyzeVideos, "request_id": "r1", "selectedVideos": []string{"v1"}})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.Handle(connCtx, "c1", raw)
	}()

	<-started
	closeConn()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handle did not return after the connection closed")
	}
	assert.Equal(t, 0, f.sender.attempts)
	assert.Equal(t, 0, f.router.InFlight())
}
