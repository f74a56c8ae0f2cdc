package memory

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"pulsebot/internal/perr"
)

// QdrantMirror adapts a Qdrant collection to the Mirror contract. Qdrant
// point IDs must be UUIDs or positive integers, so memory ids (already
// UUIDs from streamdb.NewID) pass through unchanged.
type QdrantMirror struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantMirror(ctx context.Context, dsn, collection string, dimensions int) (*QdrantMirror, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "parse qdrant url", err)
	}
	port := 6334
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg := &qdrant.Config{Host: u.Hostname(), Port: port}
	if u.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := u.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "create qdrant client", err)
	}
	qm := &QdrantMirror{client: client, collection: collection}
	if err := qm.ensureCollection(ctx, dimensions); err != nil {
		client.Close()
		return nil, err
	}
	return qm, nil
}

func (qm *QdrantMirror) ensureCollection(ctx context.Context, dimensions int) error {
	exists, err := qm.client.CollectionExists(ctx, qm.collection)
	if err != nil {
		return perr.Wrap(perr.MemoryUnavailable, "check qdrant collection", err)
	}
	if exists {
		return nil
	}
	if dimensions <= 0 {
		return perr.New(perr.ConfigError, "qdrant collection creation requires known dimensions")
	}
	err = qm.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qm.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return perr.Wrap(perr.MemoryUnavailable, "create qdrant collection", err)
	}
	return nil
}

func (qm *QdrantMirror) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	pointID, err := pointIDFor(id)
	if err != nil {
		return err
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	metaAny := make(map[string]any, len(metadata))
	for k, v := range metadata {
		metaAny[k] = v
	}
	_, err = qm.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qm.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(metaAny),
		}},
	})
	return err
}

func (qm *QdrantMirror) Delete(ctx context.Context, id string) error {
	pointID, err := pointIDFor(id)
	if err != nil {
		return err
	}
	_, err = qm.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qm.collection,
		Points:         qdrant.NewPointsSelector(pointID),
	})
	return err
}

func (qm *QdrantMirror) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]MirrorHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := qm.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qm.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
	})
	if err != nil {
		return nil, err
	}
	out := make([]MirrorHit, 0, len(hits))
	for _, h := range hits {
		id := h.Id.GetUuid()
		if id == "" {
			id = h.Id.String()
		}
		out = append(out, MirrorHit{ID: id, Score: float64(h.Score)})
	}
	return out, nil
}

func pointIDFor(id string) (*qdrant.PointId, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, perr.Wrap(perr.MemoryUnavailable, "memory id is not a uuid", err)
	}
	return qdrant.NewIDUUID(id), nil
}
