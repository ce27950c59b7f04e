package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
	"github.com/zhouzirui/llmbot-chat/internal/preferences"
	"github.com/zhouzirui/llmbot-chat/internal/transport"
)

type fakeTransport struct {
	mu    sync.Mutex
	state transport.State
	sent  []string
	err   error
}

func (f *fakeTransport) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s transport.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeBackend struct {
	mu          sync.Mutex
	historyGate chan struct{}
	history     map[string][]chat.HistoryMessage
	historyErr  error
	chatbots    []string
	chatbotsErr error
	feedbackErr error
	feedback    []chat.Feedback
}

func (f *fakeBackend) SessionHistory(ctx context.Context, sessionID string) ([]chat.HistoryMessage, error) {
	f.mu.Lock()
	gate := f.historyGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[sessionID], nil
}

func (f *fakeBackend) ListChatbots(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatbots, f.chatbotsErr
}

func (f *fakeBackend) SubmitFeedback(_ context.Context, fb chat.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
	return f.feedbackErr
}

func (f *fakeBackend) submitted() []chat.Feedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Feedback(nil), f.feedback...)
}

type harness struct {
	ctrl      *Controller
	transport *fakeTransport
	backend   *fakeBackend
	prefs     *preferences.MemoryStore
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	ids := []string{"session-1", "session-2", "session-3", "session-4"}
	next := 0
	opts := Options{
		Identity: identity.Identity{Token: "tok", UserID: "alice", Groups: []string{"Retail"}},
		Logger:   zaptest.NewLogger(t),
		NewSessionID: func() string {
			id := ids[next%len(ids)]
			next++
			return id
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	h := &harness{
		transport: &fakeTransport{state: transport.StateOpen},
		backend:   &fakeBackend{chatbots: []string{"admin", "retail"}, history: map[string][]chat.HistoryMessage{}},
		prefs:     preferences.NewMemoryStore(),
	}
	h.ctrl = NewController(h.transport, h.backend, h.prefs, opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) frame(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	h.ctrl.HandleFrame(raw)
}

func (h *harness) end(t *testing.T, id string) {
	h.frame(t, chat.Event{Kind: chat.EventEnd, MessageID: id})
}

func lastRequest(t *testing.T, tr *fakeTransport) chat.TurnRequest {
	t.Helper()
	frames := tr.frames()
	require.NotEmpty(t, frames)
	var req chat.TurnRequest
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &req))
	return req
}

func TestStartFreshSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.Start(context.Background(), ""))

	v := h.ctrl.Snapshot()
	assert.Equal(t, "session-1", v.SessionID)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, chat.RoleAI, v.Messages[0].Role)
	assert.Equal(t, DefaultWelcomeMessage, v.Messages[0].Content)
	assert.False(t, v.Messages[0].Rateable)
	assert.Equal(t, []string{"admin", "retail"}, v.Chatbots)
	assert.Equal(t, "admin", v.Settings.ChatbotID)
	assert.Equal(t, settings.Models(settings.ScenarioCommon)[0], v.Settings.ModelID)
	assert.Equal(t, ConnectionPending, v.Connection)
	assert.False(t, v.Busy)

	stored, ok, err := h.prefs.Get(context.Background(), settings.KeyChatbot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "admin", stored)
}

func TestStartRestoresPreferences(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.prefs.Set(ctx, settings.KeyChatbot, "retail"))
	require.NoError(t, h.prefs.Set(ctx, settings.KeyModel, "custom-model"))
	require.NoError(t, h.prefs.Set(ctx, settings.KeyTemperature, "0.7"))
	require.NoError(t, h.prefs.Set(ctx, settings.KeyEnableTrace, "false"))
	require.NoError(t, h.prefs.Set(ctx, settings.KeyScenario, settings.ScenarioRetail))

	require.NoError(t, h.ctrl.Start(ctx, ""))

	s := h.ctrl.Settings()
	assert.Equal(t, "retail", s.ChatbotID)
	assert.Equal(t, "custom-model", s.ModelID)
	assert.Equal(t, "0.7", s.Temperature)
	assert.False(t, s.EnableTrace)
	assert.Equal(t, settings.ScenarioRetail, s.Scenario)
}

func TestStaleChatbotSelectionFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.prefs.Set(ctx, settings.KeyChatbot, "deleted-bot"))

	require.NoError(t, h.ctrl.Start(ctx, ""))
	assert.Equal(t, "admin", h.ctrl.Settings().ChatbotID)
}

func TestChatbotListFailureKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.chatbotsErr = errors.New("unavailable")

	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	v := h.ctrl.Snapshot()
	assert.Empty(t, v.Chatbots)
	assert.Len(t, v.Messages, 1)
}

func TestSubmitThenEndProducesOneExchange(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))

	require.NoError(t, h.ctrl.Submit("hello"))

	v := h.ctrl.Snapshot()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, chat.RoleHuman, v.Messages[1].Role)
	assert.Equal(t, "hello", v.Messages[1].Content)
	assert.Empty(t, v.Messages[1].ID)
	assert.True(t, v.Busy)
	require.NotNil(t, v.InFlight)

	h.end(t, "m-1")

	v = h.ctrl.Snapshot()
	require.Len(t, v.Messages, 3)
	assert.Equal(t, chat.RoleHuman, v.Messages[1].Role)
	assert.Equal(t, chat.RoleAI, v.Messages[2].Role)
	assert.Equal(t, "m-1", v.Messages[2].ID)
	assert.True(t, v.Messages[2].Rateable)
	assert.Nil(t, v.InFlight)
	assert.False(t, v.Busy)
}

func TestSubmitPayload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, ""))
	require.NoError(t, h.ctrl.UpdateSettings(ctx, func(s *settings.Settings) {
		s.GoodsID = "goods-42"
		s.OnlyRAGTool = true
		s.AdditionalConfig = `{"use_websearch": false, "agent_config": {"custom": 1}}`
	}))

	require.NoError(t, h.ctrl.Submit("where is my order"))

	req := lastRequest(t, h.transport)
	assert.Equal(t, "where is my order", req.Query)
	assert.Equal(t, settings.ScenarioCommon, req.EntryType)
	assert.Equal(t, "session-1", req.SessionID)
	assert.Equal(t, "alice", req.UserID)

	cfg := req.ChatbotConfig
	assert.Equal(t, "Retail", cfg["group_name"])
	assert.Equal(t, "admin", cfg["chatbot_id"])
	assert.Equal(t, "goods-42", cfg["goods_id"])
	assert.Equal(t, "agent", cfg["chatbot_mode"])
	assert.Equal(t, true, cfg["use_history"])
	assert.Equal(t, true, cfg["enable_trace"])
	assert.Equal(t, false, cfg["use_websearch"], "override replaces generated value")
	assert.Equal(t, "", cfg["google_api_key"])
	assert.Equal(t, map[string]any{"custom": float64(1)}, cfg["agent_config"], "merge is shallow")

	llm, ok := cfg["default_llm_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, settings.Models(settings.ScenarioCommon)[0], llm["model_id"])
	assert.Equal(t, "", llm["endpoint_name"])
	assert.Equal(t, map[string]any{"temperature": 0.01, "max_tokens": float64(1000)}, llm["model_kwargs"])
}

func TestSubmitEndpointModelCarriesEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, ""))
	require.NoError(t, h.ctrl.UpdateSettings(ctx, func(s *settings.Settings) {
		s.ModelID = settings.EndpointModel
		s.Endpoint = "qwen-endpoint"
	}))

	require.NoError(t, h.ctrl.Submit("hi"))
	cfg, err := lastRequest(t, h.transport).Config()
	require.NoError(t, err)
	assert.Equal(t, "qwen-endpoint", cfg.DefaultLLMConfig.EndpointName)
}

func TestSubmitRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, ""))

	err := h.ctrl.Submit("   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, CodeRequireQuery, h.ctrl.Snapshot().FieldErrors[settings.FieldQuery])

	require.NoError(t, h.ctrl.UpdateSettings(ctx, func(s *settings.Settings) { s.Temperature = "1.5" }))
	err = h.ctrl.Submit("hi")
	assert.ErrorIs(t, err, ErrValidation)
	v := h.ctrl.Snapshot()
	assert.Equal(t, CodeTemperatureRange, v.FieldErrors[settings.FieldTemperature])
	assert.True(t, v.SettingsExpanded)
	assert.Empty(t, h.transport.frames(), "rejected turn sends nothing")
	assert.Len(t, v.Messages, 1)

	// editing the field clears its marker
	require.NoError(t, h.ctrl.UpdateSettings(ctx, func(s *settings.Settings) { s.Temperature = "1.0" }))
	assert.NotContains(t, h.ctrl.Snapshot().FieldErrors, settings.FieldTemperature)

	require.NoError(t, h.ctrl.Submit("hi"))
	assert.Len(t, h.transport.frames(), 1)
	assert.Empty(t, h.ctrl.Snapshot().FieldErrors)
}

func TestSubmitWhileTurnActive(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("first"))

	err := h.ctrl.Submit("second")
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Len(t, h.transport.frames(), 1)

	v := h.ctrl.Snapshot()
	assert.Equal(t, ErrTurnInProgress.Error(), v.Notice)
	assert.Len(t, v.Messages, 2)
}

func TestSubmitWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	h.transport.setState(transport.StateConnecting)

	err := h.ctrl.Submit("hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, ErrNotConnected.Error(), h.ctrl.Snapshot().Notice)
	assert.Empty(t, h.transport.frames())
}

func TestSubmitBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.ctrl.Submit("hi"), ErrNoActiveSession)
}

func TestStreamingTurn(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("chart please"))

	h.frame(t, chat.Event{Kind: chat.EventStart})
	h.frame(t, chat.NewChunkEvent("Here "))
	h.frame(t, chat.NewMonitorEvent("retrieving\n"))
	h.frame(t, chat.NewChunkEvent("it is"))
	h.ctrl.HandleFrame([]byte("{broken"))
	h.frame(t, map[string]any{"message_type": "HEARTBEAT"})
	h.frame(t, chat.NewContextEvent([]chat.Figure{{ContentType: "png", FigurePath: "out/fig 1.png"}}))

	v := h.ctrl.Snapshot()
	require.NotNil(t, v.InFlight)
	assert.Equal(t, "Here it is \n ![png](/out%2Ffig%201.png)", v.InFlight.Content)
	assert.Equal(t, "retrieving\n", v.InFlight.Trace)

	h.end(t, "m-42")
	v = h.ctrl.Snapshot()
	last := v.Messages[len(v.Messages)-1]
	assert.Equal(t, "Here it is \n ![png](/out%2Ffig%201.png)", last.Content)
	assert.Equal(t, "retrieving\n", last.Trace)
	assert.Equal(t, "m-42", last.ID)
}

func TestFramesWhileIdleAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))

	h.frame(t, chat.NewChunkEvent("stray"))
	h.end(t, "m-stray")

	v := h.ctrl.Snapshot()
	assert.Len(t, v.Messages, 1)
	assert.Nil(t, v.InFlight)
}

func TestReconnectDoesNotCancelTurn(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.frame(t, chat.NewChunkEvent("part"))

	for _, s := range []transport.State{transport.StateClosing, transport.StateClosed, transport.StateConnecting, transport.StateOpen} {
		h.ctrl.HandleState(s)
	}
	assert.Equal(t, ConnectionSuccess, h.ctrl.Snapshot().Connection)

	h.frame(t, chat.NewChunkEvent("ial"))
	h.end(t, "m-1")
	v := h.ctrl.Snapshot()
	assert.Equal(t, "partial", v.Messages[len(v.Messages)-1].Content)
}

func TestConnectionLabels(t *testing.T) {
	h := newHarness(t, nil)
	want := map[transport.State]string{
		transport.StateConnecting: ConnectionLoading,
		transport.StateOpen:       ConnectionSuccess,
		transport.StateClosing:    ConnectionClosing,
		transport.StateClosed:     ConnectionError,
	}
	for state, label := range want {
		h.ctrl.HandleState(state)
		assert.Equal(t, label, h.ctrl.Snapshot().Connection, state.String())
	}
}

func TestNewChatDiscardsActiveTurn(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.frame(t, chat.NewChunkEvent("partial"))

	id := h.ctrl.NewChat(ctx)

	assert.Equal(t, "session-2", id)
	v := h.ctrl.Snapshot()
	assert.Equal(t, "session-2", v.SessionID)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, DefaultWelcomeMessage, v.Messages[0].Content)
	assert.Nil(t, v.InFlight)
	assert.False(t, v.Busy)

	// the old turn's END is now noise
	h.end(t, "m-old")
	assert.Len(t, h.ctrl.Snapshot().Messages, 1)

	require.NoError(t, h.ctrl.Submit("again"))
	assert.Equal(t, "session-2", lastRequest(t, h.transport).SessionID)
}

func TestResumeLoadsHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.history["old-session"] = []chat.HistoryMessage{
		{MessageID: "h1", Role: chat.RoleHuman, Content: "draw"},
		{MessageID: "a1", Role: chat.RoleAI, Content: "done",
			AdditionalKwargs: &chat.AdditionalKwargs{Figure: []chat.Figure{{ContentType: "png", FigurePath: "p.png"}}}},
	}

	require.NoError(t, h.ctrl.Start(context.Background(), "old-session"))

	v := h.ctrl.Snapshot()
	assert.Equal(t, "old-session", v.SessionID)
	assert.False(t, v.LoadingHistory)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "done \n ![png](/p.png)", v.Messages[1].Content)
	assert.True(t, v.Messages[1].Rateable)
	assert.Empty(t, h.transport.frames(), "resuming submits nothing")

	require.NoError(t, h.ctrl.Submit("more"))
	assert.Equal(t, "old-session", lastRequest(t, h.transport).SessionID)
}

func TestSubmitWhileHistoryLoading(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.backend.historyGate = gate
	h.backend.history["old-session"] = []chat.HistoryMessage{
		{MessageID: "h1", Role: chat.RoleHuman, Content: "q"},
		{MessageID: "a1", Role: chat.RoleAI, Content: "a"},
	}

	started := make(chan error, 1)
	go func() { started <- h.ctrl.Start(context.Background(), "old-session") }()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().LoadingHistory }, time.Second, 5*time.Millisecond)

	err := h.ctrl.Submit("typed while loading")
	assert.ErrorIs(t, err, ErrHistoryLoading)
	assert.Empty(t, h.transport.frames())
	assert.Equal(t, ErrHistoryLoading.Error(), h.ctrl.Snapshot().Notice)

	close(gate)
	require.NoError(t, <-started)

	// END for a turn that was never sent changes nothing.
	h.end(t, "a2")
	v := h.ctrl.Snapshot()
	assert.Empty(t, v.Notice)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "q", v.Messages[0].Content)
	assert.Equal(t, "a1", v.Messages[1].ID)

	require.NoError(t, h.ctrl.Submit("typed after loading"))
	assert.Len(t, h.transport.frames(), 1)
}

func TestResumeHistoryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.historyErr = errors.New("gone")

	err := h.ctrl.Start(context.Background(), "old-session")
	assert.ErrorIs(t, err, ErrHistoryLoad)

	v := h.ctrl.Snapshot()
	assert.Empty(t, v.Messages)
	assert.False(t, v.LoadingHistory)
	assert.Equal(t, ErrHistoryLoad.Error(), v.Notice)
}

func TestRateTogglesAndNotifies(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.end(t, "m-1")

	v, err := h.ctrl.Rate(2, chat.VerdictPositive)
	require.NoError(t, err)
	assert.Equal(t, chat.VerdictPositive, v)

	v, err = h.ctrl.Rate(2, chat.VerdictPositive)
	require.NoError(t, err)
	assert.Equal(t, chat.VerdictNone, v)
	h.ctrl.Close()

	got := h.backend.submitted()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []chat.Feedback{
		{SessionID: "session-1", MessageID: "m-1", FeedbackType: chat.VerdictPositive},
		{SessionID: "session-1", MessageID: "m-1", FeedbackType: chat.VerdictNone},
	}, got)
}

func TestRateFailureKeepsLocalVerdict(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.feedbackErr = errors.New("offline")
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.end(t, "m-1")

	_, err := h.ctrl.Rate(2, chat.VerdictNegative)
	require.NoError(t, err)
	h.ctrl.Close()

	assert.Equal(t, chat.VerdictNegative, h.ctrl.Snapshot().Messages[2].Feedback)
}

func TestRateRejectsIneligibleMessages(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.end(t, "m-1")

	_, err := h.ctrl.Rate(0, chat.VerdictPositive)
	assert.ErrorIs(t, err, ErrNotRateable, "welcome message has no server id")
	_, err = h.ctrl.Rate(1, chat.VerdictPositive)
	assert.ErrorIs(t, err, ErrNotRateable, "human message")
	_, err = h.ctrl.Rate(9, chat.VerdictPositive)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = h.ctrl.Rate(2, chat.VerdictNone)
	assert.ErrorIs(t, err, ErrInvalidVerdict)

	h.ctrl.Close()
	assert.Empty(t, h.backend.submitted())
}

func TestTurnTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, func(o *Options) { o.TurnTimeout = 20 * time.Millisecond })
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("slow"))
	h.frame(t, chat.NewChunkEvent("half"))

	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().InFlight == nil
	}, time.Second, 5*time.Millisecond)

	v := h.ctrl.Snapshot()
	assert.Equal(t, ErrTurnTimedOut.Error(), v.Notice)
	assert.Len(t, v.Messages, 2)

	h.end(t, "m-late")
	assert.Len(t, h.ctrl.Snapshot().Messages, 2)

	require.NoError(t, h.ctrl.Submit("retry"))
	assert.Empty(t, h.ctrl.Snapshot().Notice)
	h.end(t, "m-2")
}

func TestFinishedTurnDisarmsTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TurnTimeout = 30 * time.Millisecond })
	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("fast"))
	h.end(t, "m-1")

	time.Sleep(60 * time.Millisecond)
	v := h.ctrl.Snapshot()
	assert.Empty(t, v.Notice)
	assert.Len(t, v.Messages, 3)
}

func TestUpdateSettingsPersistsChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, ""))

	require.NoError(t, h.ctrl.UpdateSettings(ctx, func(s *settings.Settings) {
		s.MaxTokens = "256"
		s.UseHistory = false
		s.Temperature = ""
	}))

	v, ok, err := h.prefs.Get(ctx, settings.KeyMaxTokens)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "256", v)

	v, _, _ = h.prefs.Get(ctx, settings.KeyUseHistory)
	assert.Equal(t, "false", v)

	_, ok, _ = h.prefs.Get(ctx, settings.KeyTemperature)
	assert.False(t, ok, "cleared fields are not written")
}

func TestSubscribeCoalesces(t *testing.T) {
	h := newHarness(t, nil)
	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	require.NoError(t, h.ctrl.Start(context.Background(), ""))
	require.NoError(t, h.ctrl.Submit("hi"))
	h.frame(t, chat.NewChunkEvent("a"))
	h.frame(t, chat.NewChunkEvent("b"))

	select {
	case <-updates:
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-updates:
		t.Fatal("notifications should coalesce")
	default:
	}

	cancel()
	h.frame(t, chat.NewChunkEvent("c"))
	select {
	case <-updates:
		t.Fatal("unsubscribed channel must stay quiet")
	default:
	}
}
