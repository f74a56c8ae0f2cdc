// Package memory implements the semantic memory manager (C4): store, search,
// soft-delete, and hybrid ranking over the memory log, with pure-cosine
// deduplication on write.
package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"pulsebot/internal/embedding"
	"pulsebot/internal/perr"
	"pulsebot/internal/streamdb"
)

type Type string

const (
	TypeFact                Type = "fact"
	TypePreference           Type = "preference"
	TypeConversationSummary  Type = "conversation_summary"
	TypeSkillLearned         Type = "skill_learned"
)

type Category string

const (
	CategoryUserInfo Category = "user_info"
	CategoryProject  Category = "project"
	CategorySchedule Category = "schedule"
	CategoryGeneral  Category = "general"
)

// Entry is one decoded memory row.
type Entry struct {
	ID              string
	Timestamp       time.Time
	MemoryType      Type
	Category        Category
	Content         string
	SourceSessionID string
	Embedding       []float32
	Importance      float32
	IsDeleted       bool
}

// Scored pairs an Entry with its ranking score from Search.
type Scored struct {
	Entry
	Score float64
}

// Mirror is an optional ANN accelerator kept in sync with accepted writes.
// Implementations may be unreachable: Manager logs a warning rather than
// failing the write.
type Mirror interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]MirrorHit, error)
}

type MirrorHit struct {
	ID    string
	Score float64
}

const (
	defaultSimilarityThreshold = 0.95
	loggedBandFactor           = 0.8
)

// Manager implements §4.4 against the stream substrate, with an optional
// Mirror updated after every accepted write or delete. Search does not query
// the Mirror; it always scores the live rows read from the memory log.
type Manager struct {
	db         streamdb.Client
	embedder   embedding.Provider
	threshold  float64
	mirror     Mirror
	dimensions int
}

type Option func(*Manager)

func WithMirror(m Mirror) Option { return func(mgr *Manager) { mgr.mirror = m } }

func New(db streamdb.Client, embedder embedding.Provider, similarityThreshold float64, opts ...Option) *Manager {
	if similarityThreshold <= 0 {
		similarityThreshold = defaultSimilarityThreshold
	}
	m := &Manager{db: db, embedder: embedder, threshold: similarityThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// IsAvailable reports whether an embedding provider is configured; it does
// not probe network reachability, matching the coarse-grained contract in
// §4.4.
func (m *Manager) IsAvailable() bool { return m.embedder != nil }

// Store embeds content, optionally deduplicates by pure cosine similarity
// against every non-deleted record, and appends a memory row. It returns the
// id of the existing record when a duplicate is found.
func (m *Manager) Store(ctx context.Context, content string, memType Type, category Category, importance float32, sourceSessionID string, checkDuplicates bool) (string, error) {
	if !m.IsAvailable() {
		return "", perr.New(perr.MemoryUnavailable, "no embedding provider configured")
	}
	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return "", perr.Wrap(perr.MemoryUnavailable, "embed memory content", err)
	}
	if err := m.checkDimensions(vec); err != nil {
		return "", err
	}

	if checkDuplicates {
		if dupID, ok, err := m.findDuplicate(ctx, vec); err != nil {
			return "", err
		} else if ok {
			return dupID, nil
		}
	}

	id := streamdb.NewID()
	row := streamdb.Row{
		"id":                id,
		"memory_type":       string(memType),
		"category":          string(category),
		"content":           content,
		"source_session_id": sourceSessionID,
		"embedding":         vec,
		"importance":        importance,
		"is_deleted":        false,
	}
	if err := m.db.Append(ctx, streamdb.MemoryStream, row); err != nil {
		return "", perr.Wrap(perr.StreamTransportError, "append memory", err)
	}
	if m.mirror != nil {
		if err := m.mirror.Upsert(ctx, id, vec, map[string]string{
			"memory_type": string(memType),
			"category":    string(category),
		}); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("memory mirror upsert failed, stream write stands")
		}
	}
	return id, nil
}

// findDuplicate scans all non-deleted records for pure-cosine similarity at
// or above the configured threshold. Records landing in
// [0.8*threshold, threshold) are logged but not treated as duplicates.
func (m *Manager) findDuplicate(ctx context.Context, vec []float32) (string, bool, error) {
	entries, err := m.allLive(ctx)
	if err != nil {
		return "", false, err
	}
	loggedBand := m.threshold * loggedBandFactor
	for _, e := range entries {
		sim := cosineSimilarity(vec, e.Embedding)
		if sim >= m.threshold {
			return e.ID, true, nil
		}
		if sim >= loggedBand {
			log.Debug().Str("id", e.ID).Float64("similarity", sim).Msg("near-duplicate memory below dedup threshold")
		}
	}
	return "", false, nil
}

// Search ranks live records by (1 - cosine_distance) * importance, filtered
// by min_importance and, if supplied, memory type/category, ordered by score
// desc then recency then id.
func (m *Manager) Search(ctx context.Context, query string, limit int, minImportance float32, memTypes []Type, categories []Category) ([]Scored, error) {
	if !m.IsAvailable() {
		return nil, perr.New(perr.MemoryUnavailable, "no embedding provider configured")
	}
	qvec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, perr.Wrap(perr.MemoryUnavailable, "embed search query", err)
	}

	entries, err := m.allLive(ctx)
	if err != nil {
		return nil, err
	}
	typeSet := toSet(memTypes)
	catSet := toCatSet(categories)

	out := make([]Scored, 0, len(entries))
	for _, e := range entries {
		if e.Importance < minImportance {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.MemoryType] {
			continue
		}
		if len(catSet) > 0 && !catSet[e.Category] {
			continue
		}
		sim := cosineSimilarity(qvec, e.Embedding)
		out = append(out, Scored{Entry: e, Score: sim * float64(e.Importance)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetBySession returns live records for a session ordered by timestamp desc.
func (m *Manager) GetBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	entries, err := m.allLive(ctx)
	if err != nil {
		return nil, err
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.SourceSessionID == sessionID {
			out = append(out, e)
		}
	}
	sortByTimestampDesc(out)
	return capLimit(out, limit), nil
}

// GetRecent returns live records ordered by timestamp desc, optionally
// filtered by memory type.
func (m *Manager) GetRecent(ctx context.Context, limit int, memTypes []Type) ([]Entry, error) {
	entries, err := m.allLive(ctx)
	if err != nil {
		return nil, err
	}
	typeSet := toSet(memTypes)
	out := entries[:0:0]
	for _, e := range entries {
		if len(typeSet) > 0 && !typeSet[e.MemoryType] {
			continue
		}
		out = append(out, e)
	}
	sortByTimestampDesc(out)
	return capLimit(out, limit), nil
}

// MarkDeleted appends a matching record with is_deleted=true, soft-deleting
// the memory (§3 invariants: mutation is modeled by a new record).
func (m *Manager) MarkDeleted(ctx context.Context, id string) error {
	entries, err := m.allLive(ctx)
	if err != nil {
		return err
	}
	var found *Entry
	for i := range entries {
		if entries[i].ID == id {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		return perr.New(perr.MemoryUnavailable, "memory not found or already deleted: "+id)
	}
	row := streamdb.Row{
		"id":                found.ID,
		"memory_type":       string(found.MemoryType),
		"category":          string(found.Category),
		"content":           found.Content,
		"source_session_id": found.SourceSessionID,
		"embedding":         found.Embedding,
		"importance":        found.Importance,
		"is_deleted":        true,
	}
	if err := m.db.Append(ctx, streamdb.MemoryStream, row); err != nil {
		return perr.Wrap(perr.StreamTransportError, "append tombstone", err)
	}
	if m.mirror != nil {
		if err := m.mirror.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("memory mirror delete failed, stream write stands")
		}
	}
	return nil
}

func (m *Manager) checkDimensions(vec []float32) error {
	if m.dimensions == 0 {
		m.dimensions = len(vec)
		return nil
	}
	if len(vec) != m.dimensions {
		return perr.New(perr.SchemaMismatch, "embedding dimension mismatch: configured for a fixed dimensionality per deployment")
	}
	return nil
}

// allLive queries every record and keeps only the latest-by-id row, filtered
// to is_deleted=false, since the log models mutation via later-winning
// records with the same id.
func (m *Manager) allLive(ctx context.Context) ([]Entry, error) {
	rows, err := m.db.Query(ctx, "SELECT * FROM "+streamdb.MemoryStream+" ORDER BY timestamp ASC")
	if err != nil {
		return nil, perr.Wrap(perr.StreamTransportError, "query memory log", err)
	}
	latest := map[string]Entry{}
	for _, r := range rows {
		e := Entry{
			ID:              r.String("id"),
			Timestamp:       r.Time("timestamp"),
			MemoryType:      Type(r.String("memory_type")),
			Category:        Category(r.String("category")),
			Content:         r.String("content"),
			SourceSessionID: r.String("source_session_id"),
			Embedding:       r.Floats("embedding"),
			Importance:      float32(r.Float64("importance")),
			IsDeleted:       r.Bool("is_deleted"),
		}
		latest[e.ID] = e
	}
	out := make([]Entry, 0, len(latest))
	for _, e := range latest {
		if !e.IsDeleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func toSet(types []Type) map[Type]bool {
	if len(types) == 0 {
		return nil
	}
	s := make(map[Type]bool, len(types))
	for _, t := range types {
		s[t] = true
	}
	return s
}

func toCatSet(cats []Category) map[Category]bool {
	if len(cats) == 0 {
		return nil
	}
	s := make(map[Category]bool, len(cats))
	for _, c := range cats {
		s[c] = true
	}
	return s
}

func sortByTimestampDesc(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}

func capLimit(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
