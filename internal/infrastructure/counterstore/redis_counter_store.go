package counterstore

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/abuseguard/internal/domain/service"
	redisconn "github.com/turtacn/abuseguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

//go:embed scripts/incr.lua
var incrScriptSource string

var incrScript = redis.NewScript(incrScriptSource)

// EventLogConfig bounds the operational event log.
type EventLogConfig struct {
	MaxLen int           `mapstructure:"max_len"`
	TTL    time.Duration `mapstructure:"ttl"`
}

func (c *EventLogConfig) setDefaults() {
	if c.MaxLen <= 0 {
		c.MaxLen = constants.DefaultEventLogMaxLen
	}
	if c.TTL <= 0 {
		c.TTL = constants.DefaultEventLogTTL
	}
}

// RedisCounterStore implements service.AbuseStore on Redis. Every failure is
// reported to the connection, which decides when to give up, and surfaces as an
// error wrapping errors.ErrStoreUnavailable.
type RedisCounterStore struct {
	conn     *redisconn.RedisConnection
	logger   logger.Logger
	metrics  service.Metrics
	eventLog EventLogConfig
}

var _ service.AbuseStore = (*RedisCounterStore)(nil)

// NewRedisCounterStore creates a store on conn.
func NewRedisCounterStore(conn *redisconn.RedisConnection, eventLog EventLogConfig, metrics service.Metrics, log logger.Logger) *RedisCounterStore {
	eventLog.setDefaults()
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &RedisCounterStore{
		conn:     conn,
		logger:   log.WithComponent("counterstore"),
		metrics:  metrics,
		eventLog: eventLog,
	}
}

// IncrementCounter runs INCR and, on the first increment, EXPIRE in one script.
func (s *RedisCounterStore) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	client, err := s.client("incr")
	if err != nil {
		return 0, err
	}

	count, err := incrScript.Run(ctx, client, []string{key}, windowSeconds(window)).Int64()
	if err != nil {
		return 0, s.fail(ctx, "incr", err)
	}
	s.conn.ReportSuccess()
	return count, nil
}

// CheckDedup runs SET key 1 NX EX window.
func (s *RedisCounterStore) CheckDedup(ctx context.Context, key string, window time.Duration) (bool, error) {
	client, err := s.client("dedup")
	if err != nil {
		return false, err
	}

	created, err := client.SetNX(ctx, key, constants.DedupMarkerValue, time.Duration(windowSeconds(window))*time.Second).Result()
	if err != nil {
		return false, s.fail(ctx, "dedup", err)
	}
	s.conn.ReportSuccess()
	return created, nil
}

// AppendEvent pushes entry to the head of the event log, trims it and refreshes
// its expiry in one transaction.
func (s *RedisCounterStore) AppendEvent(ctx context.Context, entry service.EventLogEntry) error {
	client, err := s.client("event_append")
	if err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event log entry: %w", err)
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, constants.KeyEventLog, payload)
		pipe.LTrim(ctx, constants.KeyEventLog, 0, int64(s.eventLog.MaxLen-1))
		pipe.Expire(ctx, constants.KeyEventLog, s.eventLog.TTL)
		return nil
	})
	if err != nil {
		return s.fail(ctx, "event_append", err)
	}
	s.conn.ReportSuccess()
	return nil
}

// RecentEvents returns up to limit entries, newest first. Entries that cannot be
// decoded are skipped.
func (s *RedisCounterStore) RecentEvents(ctx context.Context, limit int) ([]service.EventLogEntry, error) {
	if limit <= 0 || limit > s.eventLog.MaxLen {
		limit = s.eventLog.MaxLen
	}
	client, err := s.client("event_read")
	if err != nil {
		return nil, err
	}

	raw, err := client.LRange(ctx, constants.KeyEventLog, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, s.fail(ctx, "event_read", err)
	}
	s.conn.ReportSuccess()

	entries := make([]service.EventLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry service.EventLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			s.logger.Warn(ctx, "Skipping malformed event log entry", logger.Err(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearCooldowns deletes every rate counter keyed by userHash, on every master
// when running against a cluster.
func (s *RedisCounterStore) ClearCooldowns(ctx context.Context, userHash string) (int, error) {
	client, err := s.client("clear")
	if err != nil {
		return 0, err
	}

	pattern := userRatePattern(userHash)
	var deleted atomic.Int64

	if cluster, ok := client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := scanAndDelete(ctx, node, pattern)
			deleted.Add(int64(n))
			return err
		})
	} else {
		var n int
		n, err = scanAndDelete(ctx, client, pattern)
		deleted.Add(int64(n))
	}
	if err != nil {
		return int(deleted.Load()), s.fail(ctx, "clear", err)
	}
	s.conn.ReportSuccess()

	s.logger.Info(ctx, "Cooldowns cleared",
		logger.String("user_hash", userHash),
		logger.Int64("deleted", deleted.Load()),
	)
	return int(deleted.Load()), nil
}

// Available reports whether the store will attempt commands.
func (s *RedisCounterStore) Available() bool {
	return s.conn.Available()
}

func (s *RedisCounterStore) client(op string) (redis.UniversalClient, error) {
	client, err := s.conn.Client()
	if err != nil {
		s.metrics.RecordStoreUnavailable(op)
		return nil, err
	}
	return client, nil
}

// fail reports err to the connection unless the caller's own context ended
// the command: an abandoned request says nothing about Redis health.
func (s *RedisCounterStore) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", errors.ErrStoreUnavailable, op, err)
	}
	s.metrics.RecordStoreUnavailable(op)
	return s.conn.ReportFailure(ctx, op, err)
}

// scanAndDelete walks the keyspace with SCAN and deletes matches one key per
// command, so that cluster slots never need to agree.
func scanAndDelete(ctx context.Context, client redis.Cmdable, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, constants.ClearScanBatchSize).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			cmds, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range keys {
					pipe.Del(ctx, k)
				}
				return nil
			})
			if err != nil {
				return deleted, err
			}
			for _, cmd := range cmds {
				if n, err := cmd.(*redis.IntCmd).Result(); err == nil {
					deleted += int(n)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// windowSeconds converts a window to whole seconds, at least one.
func windowSeconds(window time.Duration) int64 {
	sec := int64(window / time.Second)
	if sec < 1 {
		return 1
	}
	return sec
}
