package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	redisconn "github.com/turtacn/abuseguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/abuseguard/pkg/logger"
)

const secret = "cli-secret"

func setup(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("ABUSE_IDENTITY_HASH_SECRET", secret)
	t.Setenv("ABUSE_REDIS_URL", "redis://"+mr.Addr())
	return mr
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCooldownClear(t *testing.T) {
	mr := setup(t)
	userHash := identity.NewResolver(secret).HashUserID("42")
	other := identity.NewResolver(secret).HashUserID("43")

	require.NoError(t, mr.Set(counterstore.RateKey(models.ActionVote, models.DimensionUserID, userHash), "5"))
	require.NoError(t, mr.Set(counterstore.RateKey(models.ActionPostCreate, models.DimensionUserID, userHash), "2"))
	require.NoError(t, mr.Set(counterstore.RateKey(models.ActionVote, models.DimensionUserID, other), "1"))

	out, err := run(t, "cooldown", "clear", "42")
	require.NoError(t, err)
	assert.Equal(t, "cleared 2 counters for "+userHash+"\n", out)
	assert.True(t, mr.Exists(counterstore.RateKey(models.ActionVote, models.DimensionUserID, other)))

	out, err = run(t, "cooldown", "clear", "--hashed", other)
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 counters")
}

func TestCooldownClear_MemoryBackendRejected(t *testing.T) {
	setup(t)
	t.Setenv("ABUSE_STORE_BACKEND", "memory")

	_, err := run(t, "cooldown", "clear", "42")
	assert.ErrorContains(t, err, "redis backend")
}

func TestEventsTail(t *testing.T) {
	mr := setup(t)

	conn := redisconn.NewRedisConnection(&redisconn.Config{URL: "redis://" + mr.Addr()}, logger.NewNoopLogger())
	defer conn.Close()
	store := counterstore.NewRedisCounterStore(conn, counterstore.EventLogConfig{MaxLen: 10, TTL: time.Hour}, nil, logger.NewNoopLogger())
	for _, reason := range []string{models.ReasonSoftLimit, models.ReasonHardLimit} {
		require.NoError(t, store.AppendEvent(context.Background(), service.EventLogEntry{
			Action: "vote", Decision: "deny", Reason: reason, Mode: "enforce", At: time.Now(),
		}))
	}

	out, err := run(t, "events", "tail", "-n", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var entry service.EventLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, models.ReasonHardLimit, entry.Reason)

	_, err = run(t, "events", "tail", "-n", "0")
	assert.Error(t, err)
}

func TestPolicies(t *testing.T) {
	setup(t)

	out, err := run(t, "policies", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "community_create")
	assert.Contains(t, out, "userId:86400s")
	assert.Contains(t, out, "dedup:3600s")

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vote:\n  rules:\n    - {keyBy: userId, windowSec: 60, softLimit: 1, hardLimit: 2}\n"), 0o600))
	out, err = run(t, "policies", "list", "-f", path)
	require.NoError(t, err)
	assert.Regexp(t, `vote\s+userId:60s\s+1\s+2`, out)

	out, err = run(t, "policies", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("vote:\n  rules:\n    - {keyBy: userId, windowSec: 60, softLimit: 5, hardLimit: 2}\n"), 0o600))
	_, err = run(t, "policies", "check", bad)
	assert.Error(t, err)
}

func TestIdentityHash(t *testing.T) {
	setup(t)
	resolver := identity.NewResolver(secret)

	out, err := run(t, "identity", "hash", " 42 ")
	require.NoError(t, err)
	assert.Equal(t, resolver.HashUserID("42")+"\n", out)

	out, err = run(t, "identity", "hash", "-k", "emailHash", "Bob@Example.com")
	require.NoError(t, err)
	assert.Equal(t, resolver.HashEmail("bob@example.com")+"\n", out)

	out, err = run(t, "identity", "hash", "-k", "ipHash", "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, resolver.Hash("192.0.2.1")+"\n", out)

	_, err = run(t, "identity", "hash", "-k", "shoeSize", "9")
	assert.Error(t, err)
}
