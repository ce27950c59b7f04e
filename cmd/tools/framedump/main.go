package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/config"
	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
	chatService "github.com/zhouzirui/llmbot-chat/internal/service/chat"
	"github.com/zhouzirui/llmbot-chat/internal/transport"
)

// printer writes every frame with its classification.
type printer struct {
	mu     sync.Mutex
	raw    bool
	opened chan struct{}
	once   sync.Once
	ends   chan struct{}
}

func (p *printer) HandleFrame(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev, err := chatService.Classify(frame)
	switch {
	case err != nil:
		fmt.Printf("%s  !! %v\n", stamp(), err)
	case ev.Kind == chat.EventChunk:
		fmt.Printf("%s  CHUNK    %q\n", stamp(), ev.ChunkContent())
	case ev.Kind == chat.EventMonitor:
		fmt.Printf("%s  MONITOR  %q\n", stamp(), ev.MonitorText())
	case ev.Kind == chat.EventContext:
		fmt.Printf("%s  CONTEXT  %q\n", stamp(), chatService.RenderFigures(ev.Figures()))
	case ev.Kind == chat.EventEnd:
		fmt.Printf("%s  END      message_id=%s\n", stamp(), ev.MessageID)
	default:
		fmt.Printf("%s  %-8s\n", stamp(), ev.Kind)
	}
	if p.raw {
		fmt.Printf("            %s\n", frame)
	}
	if err == nil && ev.Kind == chat.EventEnd {
		select {
		case p.ends <- struct{}{}:
		default:
		}
	}
}

func (p *printer) HandleState(state transport.State) {
	fmt.Printf("%s  -- %s\n", stamp(), state)
	if state == transport.StateOpen {
		p.once.Do(func() { close(p.opened) })
	}
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	url := flag.String("url", cfg.Client.WebSocketURL, "websocket endpoint")
	token := flag.String("token", cfg.Client.IDToken, "id token appended as idToken")
	query := flag.String("query", "", "send one turn with this query once connected")
	chatbot := flag.String("chatbot", "admin", "chatbot id of the turn")
	model := flag.String("model", settings.Models(settings.ScenarioCommon)[0], "model id of the turn")
	raw := flag.Bool("raw", false, "also print the raw frame")
	timeout := flag.Duration("timeout", 2*time.Minute, "give up after this long")
	verbose := flag.Bool("v", false, "log transport internals")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	dialURL, err := transport.DialURL(*url, *token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	adapter := transport.New(transport.DefaultOptions(dialURL), logger)
	p := &printer{raw: *raw, opened: make(chan struct{}), ends: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adapter.Run(ctx, p)
	}()

	if *query != "" {
		select {
		case <-p.opened:
		case <-ctx.Done():
			<-done
			fmt.Fprintln(os.Stderr, "connection never opened")
			os.Exit(1)
		}
		if err := send(adapter, *token, *query, *chatbot, *model); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		select {
		case <-p.ends:
			cancel()
		case <-ctx.Done():
		}
	}

	<-done
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && *query != "" {
		os.Exit(2)
	}
}

func send(adapter *transport.Adapter, token, query, chatbot, model string) error {
	id, _ := identity.FromToken(token)
	defaults := settings.Defaults()

	block := chat.ChatbotConfig{
		GroupName:   id.Group(),
		ChatbotID:   chatbot,
		ChatbotMode: "agent",
		UseHistory:  defaults.UseHistory,
		EnableTrace: defaults.EnableTrace,
		DefaultLLMConfig: chat.LLMConfig{
			ModelID:     model,
			ModelKwargs: chat.ModelKwargs{Temperature: 0.01, MaxTokens: 1000},
		},
	}
	merged, err := block.Merge(nil)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(chat.TurnRequest{
		Query:         query,
		EntryType:     defaults.Scenario,
		SessionID:     uuid.NewString(),
		UserID:        id.UserID,
		ChatbotConfig: merged,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s  >> %s\n", stamp(), raw)
	return adapter.Send(string(raw))
}
