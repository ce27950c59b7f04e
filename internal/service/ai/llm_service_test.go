package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/llmbot-chat/internal/config"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
)

type recordingModel struct {
	input []*schema.Message
	opts  *model.Options
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = model.GetCommonOptions(nil, opts...)
	return schema.AssistantMessage("ok", nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	m.opts = model.GetCommonOptions(nil, opts...)
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("Hel", nil),
		schema.AssistantMessage("lo", nil),
	}), nil
}

func drain(t *testing.T, sr *schema.StreamReader[*schema.Message]) []string {
	t.Helper()
	defer sr.Close()
	var out []string
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, msg.Content)
	}
}

func TestEchoResponder(t *testing.T) {
	svc, err := NewService(context.Background(), config.AIConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, svc.Echo())

	sr, err := svc.Stream(context.Background(), Request{
		Profile: profile.Profile{ID: "admin"},
		Query:   " hello there ",
	})
	require.NoError(t, err)

	deltas := drain(t, sr)
	assert.Greater(t, len(deltas), 1)
	assert.Equal(t, "[admin] You said: hello there", strings.Join(deltas, ""))
}

func TestChainStreamsWithTurnOptions(t *testing.T) {
	m := &recordingModel{}
	svc, err := NewServiceWithModel(context.Background(), m, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, svc.Echo())

	sr, err := svc.Stream(context.Background(), Request{
		Profile:    profile.Profile{ID: "retail", SystemPrompt: "Be a shop assistant."},
		Query:      "size?",
		UseHistory: true,
		History: []chat.HistoryMessage{
			{Role: chat.RoleHuman, Content: "hi"},
			{Role: chat.RoleAI, Content: "hello"},
		},
		Temperature: 0.3,
		MaxTokens:   128,
		Prompt:      PromptOptions{Scenario: "retail", GoodsID: "sku-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, drain(t, sr))

	require.Len(t, m.input, 4)
	assert.Equal(t, schema.System, m.input[0].Role)
	assert.Contains(t, m.input[0].Content, "Be a shop assistant.")
	assert.Contains(t, m.input[0].Content, "sku-1")
	assert.Equal(t, "hi", m.input[1].Content)
	assert.Equal(t, schema.Assistant, m.input[2].Role)
	assert.Equal(t, "size?", m.input[3].Content)

	require.NotNil(t, m.opts.Temperature)
	assert.InDelta(t, 0.3, *m.opts.Temperature, 1e-6)
	require.NotNil(t, m.opts.MaxTokens)
	assert.Equal(t, 128, *m.opts.MaxTokens)
}

func TestChainSkipsHistoryWhenDisabled(t *testing.T) {
	m := &recordingModel{}
	svc, err := NewServiceWithModel(context.Background(), m, nil)
	require.NoError(t, err)

	sr, err := svc.Stream(context.Background(), Request{
		Query:   "q",
		History: []chat.HistoryMessage{{Role: chat.RoleHuman, Content: "old"}},
	})
	require.NoError(t, err)
	drain(t, sr)

	require.Len(t, m.input, 2)
	assert.Equal(t, fallbackSystemPrompt, m.input[0].Content)
}

func TestBuildHistoryMessagesKeepsTail(t *testing.T) {
	var history []chat.HistoryMessage
	for i := 0; i < historyLimit+5; i++ {
		history = append(history, chat.HistoryMessage{Role: chat.RoleHuman, Content: string(rune('a' + i))})
	}
	got := buildHistoryMessages(history)
	require.Len(t, got, historyLimit)
	assert.Equal(t, string(rune('a'+5)), got[0].Content)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, fallbackSystemPrompt, BuildSystemPrompt(profile.Profile{}, PromptOptions{}))

	got := BuildSystemPrompt(profile.Profile{SystemPrompt: "base"}, PromptOptions{OnlyRAGTool: true, GoodsID: "x"})
	assert.True(t, strings.HasPrefix(got, "base\n\nRules:"))
	assert.Contains(t, got, "retrieved knowledge")
	assert.NotContains(t, got, "goods item", "goods id only matters in the retail scenario")
}
