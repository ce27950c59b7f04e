package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/llmbot-chat/internal/handler"
	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/preferences"
	"github.com/zhouzirui/llmbot-chat/internal/service/backend"
	chatService "github.com/zhouzirui/llmbot-chat/internal/service/chat"
	"github.com/zhouzirui/llmbot-chat/internal/transport"
	"github.com/zhouzirui/llmbot-chat/internal/ui"
)

// session bundles everything a running chat needs.
type session struct {
	prefs      preferences.Store
	closePrefs func() error
	adapter    *transport.Adapter
	ctrl       *chatService.Controller
}

func openPreferences(ctx context.Context) (preferences.Store, func() error, error) {
	prefs, closePrefs, err := preferences.Open(ctx, cfg.Preferences, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open preferences: %w", err)
	}
	return prefs, closePrefs, nil
}

// resolveIdentity prefers the configured token over the cached one.
func resolveIdentity(ctx context.Context, prefs preferences.Store) identity.Identity {
	token := cfg.Client.IDToken
	if token == "" {
		cached, ok, err := prefs.Get(ctx, preferences.KeyAuthToken)
		if err != nil {
			logger.Warn("read cached credential failed", zap.Error(err))
		}
		if ok {
			token = cached
		}
	}

	id, err := identity.FromToken(token)
	switch {
	case errors.Is(err, identity.ErrNoToken):
		logger.Info("no credential configured, continuing anonymously")
	case err != nil:
		logger.Warn("unreadable credential, continuing anonymously", zap.Error(err))
	}
	return id
}

func newSession(ctx context.Context) (*session, error) {
	prefs, closePrefs, err := openPreferences(ctx)
	if err != nil {
		return nil, err
	}
	id := resolveIdentity(ctx, prefs)

	client := backend.NewClient(cfg.Client.APIBaseURL, id.Token, &http.Client{Timeout: cfg.Client.RequestTimeout}, logger)

	dialURL, err := transport.DialURL(cfg.Client.WebSocketURL, id.Token)
	if err != nil {
		_ = closePrefs()
		return nil, err
	}
	opts := transport.DefaultOptions(dialURL)
	opts.ReconnectDelay = cfg.Client.ReconnectDelay
	adapter := transport.New(opts, logger)

	ctrl := chatService.NewController(adapter, client, prefs, chatService.Options{
		Identity:       id,
		WelcomeMessage: cfg.Client.WelcomeMessage,
		TurnTimeout:    cfg.Client.TurnTimeout,
		Logger:         logger,
	})

	logger.Info("session ready",
		zap.String("user_id", id.UserID),
		zap.String("group", id.Group()),
		zap.String("api", cfg.Client.APIBaseURL),
	)
	return &session{prefs: prefs, closePrefs: closePrefs, adapter: adapter, ctrl: ctrl}, nil
}

func (s *session) close() {
	s.ctrl.Close()
	if err := s.closePrefs(); err != nil {
		logger.Warn("close preferences failed", zap.Error(err))
	}
}

// run starts the transport, opens the session and then blocks in front
// until it returns or ctx ends.
func (s *session) run(ctx context.Context, front func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.adapter.Run(gctx, s.ctrl); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := s.ctrl.Start(gctx, resumeID); err != nil {
			if !errors.Is(err, chatService.ErrHistoryLoad) {
				return err
			}
			logger.Warn("history unavailable", zap.String("session_id", resumeID), zap.Error(err))
		}
		return front(gctx)
	})
	return g.Wait()
}

func runTUI(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	return s.run(cmd.Context(), func(ctx context.Context) error {
		return ui.Run(ctx, s.ctrl)
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	srv := &http.Server{
		Addr:              cfg.Client.ConsoleAddr,
		Handler:           handler.NewConsoleRouter(s.ctrl, logger),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.run(cmd.Context(), func(ctx context.Context) error {
		// Event streams end with the session instead of holding up shutdown.
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
		logger.Info("console listening", zap.String("addr", srv.Addr))
		return runServer(ctx, srv)
	})
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	prefs, closePrefs, err := openPreferences(ctx)
	if err != nil {
		return err
	}
	defer closePrefs()

	if onboardToken != "" {
		if _, err := identity.FromToken(onboardToken); err != nil {
			return fmt.Errorf("token: %w", err)
		}
		if err := prefs.Set(ctx, preferences.KeyAuthToken, onboardToken); err != nil {
			return fmt.Errorf("cache credential: %w", err)
		}
		cfg.Client.IDToken = onboardToken
	}

	id := resolveIdentity(ctx, prefs)
	if id.Token == "" {
		return errors.New("no credential: pass --token or set CHAT_ID_TOKEN")
	}
	client := backend.NewClient(cfg.Client.APIBaseURL, id.Token, &http.Client{Timeout: cfg.Client.RequestTimeout}, logger)

	chatbotID, err := chatService.Onboard(ctx, client, prefs, logger)
	if errors.Is(err, chatService.ErrReauthenticate) {
		fmt.Fprintln(cmd.ErrOrStderr(), "credential rejected; cached token removed, log in again")
		return err
	}
	if err != nil {
		return err
	}

	if chatbotID == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "default assistant already present")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "created default assistant %s\n", chatbotID)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
