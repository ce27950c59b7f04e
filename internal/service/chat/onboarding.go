package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/preferences"
	"github.com/zhouzirui/llmbot-chat/internal/service/backend"
)

// Provisioner creates the default assistant profile after login.
type Provisioner interface {
	DefaultChatbotExists(ctx context.Context) (bool, error)
	CreateChatbot(ctx context.Context, groupName string) (string, error)
}

// Onboard makes sure the signed-in account has a default assistant. When
// the backend rejects the credential while creating it, the cached token
// is deleted and ErrReauthenticate returned; other failures leave the
// credential alone.
func Onboard(ctx context.Context, p Provisioner, prefs preferences.Store, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("onboarding")

	exists, err := p.DefaultChatbotExists(ctx)
	if err == nil && exists {
		logger.Debug("default chatbot present")
		return "", nil
	}
	if err != nil {
		logger.Warn("default chatbot lookup failed", zap.Error(err))
	}

	id, err := p.CreateChatbot(ctx, identity.DefaultGroup)
	if err == nil {
		logger.Info("default chatbot created", zap.String("chatbot_id", id))
		return id, nil
	}
	if !errors.Is(err, backend.ErrUnauthorized) {
		return "", fmt.Errorf("create default chatbot: %w", err)
	}

	logger.Warn("credential rejected, clearing cached token", zap.Error(err))
	if delErr := prefs.Delete(ctx, preferences.KeyAuthToken); delErr != nil {
		return "", errors.Join(ErrReauthenticate, fmt.Errorf("clear credential: %w", delErr))
	}
	return "", ErrReauthenticate
}
