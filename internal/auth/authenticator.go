package auth

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/fuel-analytics/internal/config"
)

// KeySource resolves an API key to the device it belongs to; an empty
// device id means the key is unknown. Satisfied by store.RedisStore.
type KeySource interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

// Authenticator validates ingest API keys in three levels: static keys from
// config, a local TTL cache, and finally the key source.
type Authenticator struct {
	localCache sync.Map
	keys       KeySource
	ttl        time.Duration
	staticKeys map[string]bool
}

func NewAuthenticator(cfg *config.Config, keys KeySource) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: key source lookup
	if a.keys == nil {
		return false
	}
	deviceID, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil || deviceID == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		deviceID:  deviceID,
		expiresAt: time.Now().Add(a.ttl),
	})

	return true
}
