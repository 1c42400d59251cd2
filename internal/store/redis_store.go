package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"alertrank/internal/logger"
	"alertrank/internal/scoring"
	"alertrank/pkg/models"
)

// RedisConfig configures Redis access for the ranked alert store.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	TTL        time.Duration
	MaxEntries int64
}

// RedisStore keeps scored alerts in per-alert hashes indexed by a sorted
// set keyed on priority score.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxEntries int64
}

// NewRedisStore constructs a Redis-backed ranked store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis ranked store: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "alertrank"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL, maxEntries: cfg.MaxEntries}
}

// WriteAlerts stores scored alerts and indexes them by score.
func (s *RedisStore) WriteAlerts(alerts []*models.ScoredAlert) error {
	return s.Save(context.Background(), alerts)
}

// Save stores scored alerts and indexes them by score.
func (s *RedisStore) Save(ctx context.Context, alerts []*models.ScoredAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, a := range alerts {
		if a == nil || a.Alert == nil || a.Alert.AlertID == "" {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode scored alert %s: %w", a.Alert.AlertID, err)
		}
		key := s.alertKey(a.Alert.AlertID)
		pipe.HSet(ctx, key,
			"data", data,
			"score", strconv.FormatFloat(a.Priority.Score, 'f', 2, 64),
			"severity", string(a.Alert.Severity),
			"ts", a.Alert.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.ZAdd(ctx, s.rankedKey(), redis.Z{Score: a.Priority.Score, Member: a.Alert.AlertID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update ranked alert keys: %w", err)
	}
	if s.maxEntries > 0 {
		return s.trim(ctx)
	}
	return nil
}

// trim evicts the lowest-ranked alerts beyond maxEntries, removing both the
// index member and the alert hash. Alerts tied on score at the cut are
// ordered by timestamp then ID, like FetchTop.
func (s *RedisStore) trim(ctx context.Context) error {
	total, err := s.client.ZCard(ctx, s.rankedKey()).Result()
	if err != nil {
		return fmt.Errorf("count ranked alerts: %w", err)
	}
	excess := total - s.maxEntries
	if excess <= 0 {
		return nil
	}
	edge, err := s.client.ZRangeWithScores(ctx, s.rankedKey(), excess-1, excess-1).Result()
	if err != nil {
		return fmt.Errorf("read trim edge: %w", err)
	}
	if len(edge) == 0 {
		return nil
	}
	members, err := s.client.ZRangeByScoreWithScores(ctx, s.rankedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(edge[0].Score, 'f', -1, 64),
	}).Result()
	if err != nil {
		return fmt.Errorf("read trim candidates: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGet(ctx, s.alertKey(fmt.Sprint(m.Member)), "ts")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("read trim candidate timestamps: %w", err)
	}

	// Members whose hash already expired go first.
	var victims []string
	candidates := make([]*models.ScoredAlert, 0, len(members))
	for i, m := range members {
		id := fmt.Sprint(m.Member)
		raw, err := cmds[i].Result()
		if err == redis.Nil {
			victims = append(victims, id)
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, raw)
		candidates = append(candidates, &models.ScoredAlert{
			Alert:    &models.Alert{AlertID: id, Timestamp: ts},
			Priority: models.PriorityScore{Score: m.Score},
		})
	}
	scoring.Rank(candidates)
	for i := len(candidates) - 1; i >= 0 && int64(len(victims)) < excess; i-- {
		victims = append(victims, candidates[i].Alert.AlertID)
	}
	if len(victims) == 0 {
		return nil
	}

	pipe = s.client.Pipeline()
	evicted := make([]interface{}, len(victims))
	keys := make([]string, len(victims))
	for i, id := range victims {
		evicted[i] = id
		keys[i] = s.alertKey(id)
	}
	pipe.ZRem(ctx, s.rankedKey(), evicted...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trim ranked alerts: %w", err)
	}
	return nil
}

// FetchTop returns up to n stored alerts in ranking order (score desc,
// timestamp asc, id asc). Alerts tied with the n-th score are all loaded
// before ordering so the cut is deterministic.
func (s *RedisStore) FetchTop(ctx context.Context, n int64) ([]*models.ScoredAlert, error) {
	if n <= 0 {
		n = 50
	}
	edge, err := s.client.ZRevRangeWithScores(ctx, s.rankedKey(), n-1, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ranked edge: %w", err)
	}

	var ids []string
	if len(edge) == 0 {
		ids, err = s.client.ZRevRange(ctx, s.rankedKey(), 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRangeByScore(ctx, s.rankedKey(), &redis.ZRangeBy{
			Min: strconv.FormatFloat(edge[0].Score, 'f', -1, 64),
			Max: "+inf",
		}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read ranked members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.alertKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read ranked alerts: %w", err)
	}

	out := make([]*models.ScoredAlert, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err == redis.Nil {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read ranked alert %s: %w", ids[i], err)
		}
		var scored models.ScoredAlert
		if err := json.Unmarshal(raw, &scored); err != nil {
			logger.Warnf("Skipping undecodable ranked alert %s: %v", ids[i], err)
			continue
		}
		out = append(out, &scored)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.rankedKey(), stale...).Err(); err != nil {
			logger.Warnf("Failed to prune %d expired ranked alerts: %v", len(stale), err)
		}
	}

	scoring.Rank(out)
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

// Get returns one stored alert.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.ScoredAlert, bool, error) {
	raw, err := s.client.HGet(ctx, s.alertKey(id), "data").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read alert %s: %w", id, err)
	}
	var scored models.ScoredAlert
	if err := json.Unmarshal(raw, &scored); err != nil {
		return nil, false, fmt.Errorf("decode alert %s: %w", id, err)
	}
	return &scored, true, nil
}

// Count returns the number of indexed alerts.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.rankedKey()).Result()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes Redis client resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) alertKey(id string) string {
	return s.prefix + ":alert:" + id
}

func (s *RedisStore) rankedKey() string {
	return s.prefix + ":ranked"
}
