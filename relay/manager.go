package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
)

const (
	activeSessionsKey  = "active_sessions"
	voiceConfigPrefix  = "voice_config:"
	defaultSettingsKey = voiceConfigPrefix + "default"
	cleanupInterval    = time.Minute
)

var ErrSessionLimit = errors.New("maximum sessions reached")

// Manager manages all client sessions and the voice settings new sessions
// open their upstream with. Redis is optional: without it, bookkeeping and
// settings live in memory only.
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	log      *zap.Logger

	// NewUpstream builds the upstream for each new session.
	NewUpstream func() Upstream

	settingsMu sync.RWMutex
	defaults   config.VoiceSettings
	overrides  map[string]config.VoiceSettings
}

// NewManager creates a session manager with Redis connection
func NewManager(cfg *config.Config, log *zap.Logger) (*Manager, error) {
	log = logger.OrGet(log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis unavailable, keeping sessions in memory only", zap.String("addr", cfg.RedisURL), zap.Error(err))
		_ = redisClient.Close()
		redisClient = nil
	}

	sm := &Manager{
		sessions:  make(map[string]*ClientSession),
		redis:     redisClient,
		config:    cfg,
		log:       log,
		defaults:  cfg.RelayVoice,
		overrides: make(map[string]config.VoiceSettings),
	}
	sm.NewUpstream = sm.defaultUpstream
	return sm, nil
}

func (sm *Manager) defaultUpstream() Upstream {
	if sm.config.Upstream == config.UpstreamGemini {
		return NewGeminiUpstream(sm.config.GeminiAPIKey, sm.config.GeminiModel, sm.log)
	}
	return NewOpenAIUpstream(sm.config.RealtimeURL, sm.config.OpenAIAPIKey, sm.log)
}

// RedisAvailable reports whether bookkeeping reaches Redis.
func (sm *Manager) RedisAvailable() bool {
	return sm.redis != nil
}

// CreateSession registers a new client session with a fresh upstream.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrSessionLimit
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, sm.NewUpstream(), SessionOptions{
		ReadLimit: int64(sm.config.MaxBufferSize),
		KeepAlive: sm.config.KeepAlivePeriod,
		Logger:    sm.log,
	})

	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"upstream":      sm.config.Upstream,
		})
		pipe.SAdd(ctx, activeSessionsKey, sessionID)
		pipe.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.log.Warn("⚠️ Failed to record session in Redis", zap.String("session", logger.ShortID(sessionID)), zap.Error(err))
		}
	}
}

func (sm *Manager) forget(ctx context.Context, sessionID string) {
	if sm.redis == nil {
		return
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, "session:"+sessionID)
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Warn("⚠️ Failed to remove session from Redis", zap.String("session", logger.ShortID(sessionID)), zap.Error(err))
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)
	sm.forget(ctx, sessionID)
	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			sm.log.Info("🧹 Closing inactive session", zap.String("session", logger.ShortID(id)))
			session.Close()
			delete(sm.sessions, id)
			sm.forget(ctx, id)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
		sm.forget(ctx, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}

// DefaultSettings returns the voice settings new sessions start with.
func (sm *Manager) DefaultSettings(ctx context.Context) config.VoiceSettings {
	if v, ok := sm.loadSettings(ctx, defaultSettingsKey); ok {
		return v
	}
	sm.settingsMu.RLock()
	defer sm.settingsMu.RUnlock()
	return sm.defaults
}

// SetDefaultSettings replaces the defaults for sessions opened from now on.
func (sm *Manager) SetDefaultSettings(ctx context.Context, v config.VoiceSettings) error {
	if err := v.Validate(); err != nil {
		return err
	}
	sm.settingsMu.Lock()
	sm.defaults = v
	sm.settingsMu.Unlock()

	sm.saveSettings(ctx, defaultSettingsKey, v, 0)
	return nil
}

// SetSessionSettings pre-configures the session a client later connects
// with ?session_id=<id>. The entry expires with the session timeout.
func (sm *Manager) SetSessionSettings(ctx context.Context, id string, v config.VoiceSettings) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id must not be empty")
	}
	if err := v.Validate(); err != nil {
		return err
	}
	sm.settingsMu.Lock()
	sm.overrides[id] = v
	sm.settingsMu.Unlock()

	sm.saveSettings(ctx, voiceConfigPrefix+id, v, sm.config.SessionTimeout)
	return nil
}

// SettingsFor resolves the settings for a connecting client: the
// pre-configured entry for id when one exists, the defaults otherwise.
func (sm *Manager) SettingsFor(ctx context.Context, id string) config.VoiceSettings {
	if id != "" {
		if v, ok := sm.loadSettings(ctx, voiceConfigPrefix+id); ok {
			return v
		}
		sm.settingsMu.RLock()
		v, ok := sm.overrides[id]
		sm.settingsMu.RUnlock()
		if ok {
			return v
		}
	}
	return sm.DefaultSettings(ctx)
}

// ApplyPreset overlays a named preset on the current defaults and stores
// the result as the new defaults.
func (sm *Manager) ApplyPreset(ctx context.Context, name string) (config.VoiceSettings, config.Preset, error) {
	v, preset, err := config.ApplyPreset(sm.DefaultSettings(ctx), name)
	if err != nil {
		return v, preset, err
	}
	if err := sm.SetDefaultSettings(ctx, v); err != nil {
		return v, preset, err
	}
	return v, preset, nil
}

// SessionConfigCount is the number of pre-configured sessions.
func (sm *Manager) SessionConfigCount(ctx context.Context) int {
	if sm.redis != nil {
		var count int
		iter := sm.redis.Scan(ctx, 0, voiceConfigPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if iter.Val() != defaultSettingsKey {
				count++
			}
		}
		if err := iter.Err(); err == nil {
			return count
		}
	}
	sm.settingsMu.RLock()
	defer sm.settingsMu.RUnlock()
	return len(sm.overrides)
}

func (sm *Manager) loadSettings(ctx context.Context, key string) (config.VoiceSettings, bool) {
	var v config.VoiceSettings
	if sm.redis == nil {
		return v, false
	}
	raw, err := sm.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			sm.log.Warn("⚠️ Failed to read voice settings from Redis", zap.String("key", key), zap.Error(err))
		}
		return v, false
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		sm.log.Warn("⚠️ Ignoring malformed voice settings", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

func (sm *Manager) saveSettings(ctx context.Context, key string, v config.VoiceSettings, ttl time.Duration) {
	if sm.redis == nil {
		return
	}
	raw, err := sonic.Marshal(v)
	if err != nil {
		sm.log.Error("❌ Failed to encode voice settings", zap.Error(err))
		return
	}
	if err := sm.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		sm.log.Warn("⚠️ Failed to store voice settings in Redis", zap.String("key", key), zap.Error(err))
	}
}
