package preferences

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/config"
)

// Open builds the store selected by cfg. The returned close function is
// never nil.
func Open(ctx context.Context, cfg config.PreferencesConfig, logger *zap.Logger) (Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("preferences")
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.PreferencesMemory:
		logger.Info("preferences kept in memory only")
		return NewMemoryStore(), noop, nil
	case config.PreferencesRedis:
		s, err := NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("preferences in redis", zap.String("addr", cfg.RedisAddr), zap.String("hash", HashKey(cfg.RedisNamespace)))
		return s, s.Close, nil
	case config.PreferencesFile, "":
		s, err := OpenFileStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("preferences on disk", zap.String("path", cfg.Path))
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown preferences backend %q", cfg.Backend)
	}
}
