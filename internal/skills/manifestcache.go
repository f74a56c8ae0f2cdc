package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// manifestCache fronts the instruction-skill directory scan with an optional
// redis-backed TTL cache, so a fleet of identically-configured processes
// does not re-walk (or re-list, for s3:// dirs) skill_dirs on every restart.
// A nil client disables caching: Build always falls through to a live scan.
type manifestCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func newManifestCache(rdb *redis.Client, ttlSec int) *manifestCache {
	ttl := time.Duration(ttlSec) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &manifestCache{redis: rdb, ttl: ttl}
}

func manifestCacheKey(dirs []string) string {
	h := sha256.Sum256([]byte(strings.Join(dirs, "\x00")))
	return "pulsebot:skill_manifests:" + hex.EncodeToString(h[:])
}

func (c *manifestCache) get(ctx context.Context, dirs []string) ([]InstructionSkill, bool) {
	if c == nil || c.redis == nil || len(dirs) == 0 {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, manifestCacheKey(dirs)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []InstructionSkill
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Warn().Err(err).Msg("skill manifest cache entry unreadable, rescanning")
		return nil, false
	}
	return out, true
}

func (c *manifestCache) set(ctx context.Context, dirs []string, skills []InstructionSkill) {
	if c == nil || c.redis == nil || len(dirs) == 0 {
		return
	}
	raw, err := json.Marshal(skills)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, manifestCacheKey(dirs), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("skill manifest cache write failed, continuing without cache")
	}
}
