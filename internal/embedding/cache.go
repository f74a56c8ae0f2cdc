package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache fronts a Provider's Embed calls so that repeated deduplication
// checks on identical content do not re-pay embedding latency/cost (§4.4
// addendum).
type Cache struct {
	inner Provider
	ttl   time.Duration

	mu    sync.Mutex
	local map[string][]float32 // used when redis is nil

	redis *redis.Client
}

// NewCache wraps inner with a cache. If rdb is nil, an in-process map is
// used instead (no TTL eviction beyond process lifetime).
func NewCache(inner Provider, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{inner: inner, ttl: ttl, local: map[string][]float32{}, redis: rdb}
}

func (c *Cache) ProviderName() string { return c.inner.ProviderName() }
func (c *Cache) Model() string        { return c.inner.Model() }
func (c *Cache) Dimensions() int      { return c.inner.Dimensions() }

func digest(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := digest(c.inner.Model(), text)
	if v, ok := c.get(ctx, key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, v)
	return v, nil
}

func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	miss := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		key := digest(c.inner.Model(), t)
		if v, ok := c.get(ctx, key); ok {
			out[i] = v
			continue
		}
		miss = append(miss, t)
		missIdx = append(missIdx, i)
	}
	if len(miss) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, miss)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.set(ctx, digest(c.inner.Model(), miss[j]), vecs[j])
	}
	return out, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]float32, bool) {
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		v, ok := c.local[key]
		return v, ok
	}
	b, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeFloats(b), true
}

func (c *Cache) set(ctx context.Context, key string, v []float32) {
	if c.redis == nil {
		c.mu.Lock()
		c.local[key] = v
		c.mu.Unlock()
		return
	}
	if err := c.redis.Set(ctx, key, encodeFloats(v), c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("embedding cache write failed, continuing without cache")
	}
}

func encodeFloats(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
