package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
)

const (
	storeTypeRedis  = "redis"
	storeTypeMemory = "memory"

	// startupPingTimeout bounds how long startup waits for the store.
	startupPingTimeout = 15 * time.Second
)

// openStore builds the configured store and wraps it with metrics. A nil
// recorder leaves it unwrapped.
func openStore(cfg StoreConfig, recorder store.Recorder, logger *slog.Logger) (store.Store, error) {
	var s store.Store
	switch cfg.Type {
	case storeTypeRedis:
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLSEnabled: cfg.RedisTLS,
			KeyPrefix:  cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		s = rs
	case storeTypeMemory:
		logger.Warn("using in-memory store: sessions and tokens are lost on restart and not shared between replicas")
		s = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store type %q (supported: %s, %s)", cfg.Type, storeTypeRedis, storeTypeMemory)
	}

	if recorder != nil {
		s = store.Instrument(s, recorder)
	}
	return s, nil
}

// pingStore waits for the store to answer, retrying with exponential
// backoff until timeout.
func pingStore(ctx context.Context, s store.Store, timeout time.Duration, logger *slog.Logger) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return struct{}{}, s.Ping(pingCtx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("store not reachable, retrying", logging.Err(err), slog.Duration("backoff", next))
		}),
	)
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// newSessionManager builds the session manager with credential encryption.
func newSessionManager(s store.Store, cfg SecurityConfig, logger *slog.Logger) (*session.Manager, error) {
	key, err := session.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	iv, err := session.IVFromBase64(cfg.EncryptionIV)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption iv: %w", err)
	}
	if len(key) == 0 && len(iv) > 0 {
		return nil, errors.New("encryption iv requires an encryption key")
	}

	cipher, err := session.NewCipher(key, iv)
	if err != nil {
		return nil, err
	}
	if !cipher.Enabled() {
		logger.Warn("session credentials are stored unencrypted; set --encryption-key or ENCRYPTION_KEY in production")
	}

	return session.NewManager(s, session.Config{
		TTL:    cfg.SessionTTL,
		Cipher: cipher,
		Logger: logger,
	}), nil
}

// newTokenService builds the token service. Tokens never outlive sessions.
func newTokenService(s store.Store, sessions *session.Manager, cfg SecurityConfig, logger *slog.Logger) (*token.Service, error) {
	key, err := decodeSigningKey(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	return token.NewService(s, sessions, token.Config{
		SigningKey: key,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		TTL:        cfg.TokenTTL,
		MaxTTL:     sessions.TTL(),
		Logger:     logger,
	})
}
