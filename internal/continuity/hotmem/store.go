// Package hotmem is the Redis-backed short-term memory store: the
// episodic turn stream, the active-context cache, the expression
// state, and the pulse-task queue, each keyed by (entityID, userID)
// and optionally encrypted transparently at rest.
package hotmem

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/pkg/models"
)

// Store is the hot memory contract: four structures, one
// (entityID, userID) keyspace namespace.
type Store struct {
	client    redis.UniversalClient
	namespace string
	cipher    *cipher
}

// Config configures the hot memory store's Redis connection.
type Config struct {
	Addr          string
	Password      string
	DB            int
	Namespace     string
	EncryptionKey string // base64, 32 bytes, for nacl/secretbox
}

// New connects to Redis and verifies reachability with a Ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "cortex"
	}
	c, err := newCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "hotmem.New", fmt.Errorf("ping: %w", err))
	}
	return &Store{client: client, namespace: cfg.Namespace, cipher: c}, nil
}

func (s *Store) key(kind, entityID, userID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.namespace, entityID, userID, kind)
}

// AppendTurn pushes one turn onto the entity/user's episodic stream,
// capping it at maxTurns so the stream stays a sliding window rather
// than an unbounded log.
func (s *Store) AppendTurn(ctx context.Context, entityID, userID string, turn models.EpisodicTurn, maxTurns int64) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "hotmem.AppendTurn", err)
	}
	sealed, err := s.cipher.seal(payload)
	if err != nil {
		return err
	}
	key := s.key("episodic", entityID, userID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, sealed)
	if maxTurns > 0 {
		pipe.LTrim(ctx, key, -maxTurns, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.AppendTurn", err)
	}
	return nil
}

// RecentTurns returns the last n turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, entityID, userID string, n int64) ([]models.EpisodicTurn, error) {
	key := s.key("episodic", entityID, userID)
	raw, err := s.client.LRange(ctx, key, -n, -1).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "hotmem.RecentTurns", err)
	}
	out := make([]models.EpisodicTurn, 0, len(raw))
	for _, sealed := range raw {
		plain, err := s.cipher.open(sealed)
		if err != nil {
			return nil, err
		}
		var turn models.EpisodicTurn
		if err := json.Unmarshal(plain, &turn); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "hotmem.RecentTurns", err)
		}
		out = append(out, turn)
	}
	return out, nil
}

// GetActiveContext returns the cached active context, or nil if
// absent or expired.
func (s *Store) GetActiveContext(ctx context.Context, entityID, userID string) (*models.ActiveContextCache, error) {
	key := s.key("active_context", entityID, userID)
	sealed, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "hotmem.GetActiveContext", err)
	}
	plain, err := s.cipher.open(sealed)
	if err != nil {
		return nil, err
	}
	var cache models.ActiveContextCache
	if err := json.Unmarshal(plain, &cache); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "hotmem.GetActiveContext", err)
	}
	if cache.Expired(time.Now()) {
		return nil, nil
	}
	return &cache, nil
}

// SetActiveContext writes the active context cache with its own TTL
// as the Redis expiry, so an unread key self-evicts.
func (s *Store) SetActiveContext(ctx context.Context, entityID, userID string, cache *models.ActiveContextCache) error {
	payload, err := json.Marshal(cache)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "hotmem.SetActiveContext", err)
	}
	sealed, err := s.cipher.seal(payload)
	if err != nil {
		return err
	}
	ttl := time.Until(cache.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.key("active_context", entityID, userID), sealed, ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.SetActiveContext", err)
	}
	return nil
}

// GetExpressionState returns the entity's current expression state
// for a user, or nil if none has been recorded yet.
func (s *Store) GetExpressionState(ctx context.Context, entityID, userID string) (*models.ExpressionState, error) {
	key := s.key("expression", entityID, userID)
	sealed, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "hotmem.GetExpressionState", err)
	}
	plain, err := s.cipher.open(sealed)
	if err != nil {
		return nil, err
	}
	var st models.ExpressionState
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "hotmem.GetExpressionState", err)
	}
	return &st, nil
}

// SetExpressionState persists the entity's expression state. Unlike
// the active context, this has no TTL: a session boundary resets it
// explicitly rather than letting it expire.
func (s *Store) SetExpressionState(ctx context.Context, entityID, userID string, state *models.ExpressionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "hotmem.SetExpressionState", err)
	}
	sealed, err := s.cipher.seal(payload)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key("expression", entityID, userID), sealed, 0).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.SetExpressionState", err)
	}
	return nil
}

// ResetExpressionState clears the stored expression state, used on an
// explicit session boundary.
func (s *Store) ResetExpressionState(ctx context.Context, entityID, userID string) error {
	if err := s.client.Del(ctx, s.key("expression", entityID, userID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.ResetExpressionState", err)
	}
	return nil
}

// GetResonanceMetrics returns the entity/user's current blended
// resonance metrics, or nil if synthesis has never run for them.
func (s *Store) GetResonanceMetrics(ctx context.Context, entityID, userID string) (*models.ResonanceMetrics, error) {
	key := s.key("resonance", entityID, userID)
	sealed, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "hotmem.GetResonanceMetrics", err)
	}
	plain, err := s.cipher.open(sealed)
	if err != nil {
		return nil, err
	}
	var m models.ResonanceMetrics
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "hotmem.GetResonanceMetrics", err)
	}
	return &m, nil
}

// SetResonanceMetrics persists the blended resonance metrics computed
// after a synthesis run. Like expression state, this has no TTL.
func (s *Store) SetResonanceMetrics(ctx context.Context, entityID, userID string, m *models.ResonanceMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "hotmem.SetResonanceMetrics", err)
	}
	sealed, err := s.cipher.seal(payload)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key("resonance", entityID, userID), sealed, 0).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.SetResonanceMetrics", err)
	}
	return nil
}

// ClearEpisodic empties the episodic stream, used on session start: the
// stream resets but the expression state persists across the boundary.
func (s *Store) ClearEpisodic(ctx context.Context, entityID, userID string) error {
	if err := s.client.Del(ctx, s.key("episodic", entityID, userID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.ClearEpisodic", err)
	}
	return nil
}

// InvalidateActiveContext evicts the cached active context, used
// whenever synthesis writes a new memory for (entityID, userID).
func (s *Store) InvalidateActiveContext(ctx context.Context, entityID, userID string) error {
	if err := s.client.Del(ctx, s.key("active_context", entityID, userID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.InvalidateActiveContext", err)
	}
	return nil
}

// MarkPulsePending records that a debounced continuity synthesis is
// in flight for (entityID, userID), returning false if one already
// was, implementing the "at most one in-flight synthesis" contract
// with a single atomic SETNX-equivalent.
func (s *Store) MarkPulsePending(ctx context.Context, entityID, userID string, ttl time.Duration) (bool, error) {
	key := s.key("pulse", entityID, userID)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(apperrors.Remote, "hotmem.MarkPulsePending", err)
	}
	return ok, nil
}

// ClearPulsePending releases the in-flight marker once synthesis
// completes, so the next debounce window can fire immediately.
func (s *Store) ClearPulsePending(ctx context.Context, entityID, userID string) error {
	if err := s.client.Del(ctx, s.key("pulse", entityID, userID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.Remote, "hotmem.ClearPulsePending", err)
	}
	return nil
}

// SessionKey identifies one entity/user pair with live hot-memory state.
type SessionKey struct {
	EntityID string
	UserID   string
}

// ListActiveSessions scans the episodic-stream keyspace for entity/user
// pairs with recent turns, so a background scheduler can fan deep
// synthesis out across every session currently warm in Redis rather
// than needing its own separate bookkeeping of "who's active."
func (s *Store) ListActiveSessions(ctx context.Context) ([]SessionKey, error) {
	prefix := s.namespace + ":"
	const suffix = ":episodic"
	pattern := prefix + "*" + suffix
	var (
		cursor uint64
		out    []SessionKey
		seen   = make(map[string]bool)
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Remote, "hotmem.ListActiveSessions", err)
		}
		for _, key := range keys {
			if seen[key] {
				continue
			}
			middle := key[len(prefix) : len(key)-len(suffix)]
			parts := splitTwo(middle, ':')
			if parts == nil {
				continue
			}
			seen[key] = true
			out = append(out, SessionKey{EntityID: parts[0], UserID: parts[1]})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func splitTwo(s string, sep byte) []string {
	idx := -1
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	return []string{s[:idx], s[idx+1:]}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
