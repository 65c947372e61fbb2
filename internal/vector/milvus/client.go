package milvus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

// Client stores transcript chunk vectors in Milvus. Each embedding
// dimension gets its own collection, so vectors from the primary and
// fallback models never share an index.
type Client struct {
	mu             sync.RWMutex
	client         client.Client
	endpoint       string
	baseCollection string
	ensured        map[int]bool
}

// Point is one chunk vector tagged with the indexing generation that
// produced it.
type Point struct {
	Chunk      models.Chunk
	Vector     []float32
	Generation int64
}

func NewClient(endpoint, baseCollection string) *Client {
	return &Client{
		endpoint:       endpoint,
		baseCollection: baseCollection,
		ensured:        make(map[int]bool),
	}
}

// Connect dials Milvus. Failure leaves the client constructed but
// unavailable, so the service can start degraded and retry later.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := client.NewGrpcClient(ctx, c.endpoint)
	if err != nil {
		return ragerr.Unavailable("milvus", err)
	}

	c.mu.Lock()
	c.client = conn
	c.mu.Unlock()

	logger.Info("Milvus client connected", zap.String("endpoint", c.endpoint))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

func (c *Client) conn() (client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return nil, ragerr.Unavailable("milvus", fmt.Errorf("not connected"))
	}
	return c.client, nil
}

func (c *Client) collectionName(dimension int) string {
	return fmt.Sprintf("%s_d%d", c.baseCollection, dimension)
}

// EnsureCollection creates and loads the collection for a dimension if it
// does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	c.mu.RLock()
	done := c.ensured[dimension]
	c.mu.RUnlock()
	if done {
		return nil
	}

	conn, err := c.conn()
	if err != nil {
		return err
	}

	name := c.collectionName(dimension)

	has, err := conn.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "Transcript chunk embeddings",
			Fields: []*entity.Field{
				{
					Name:       "point_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{
						"max_length": "128",
					},
				},
				{
					Name:     "embedding",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", dimension),
					},
				},
				{
					Name:     "chunk_id",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "96",
					},
				},
				{
					Name:     "transcript_id",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "64",
					},
				},
				{
					Name:     "text",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "8192",
					},
				},
				{
					Name:     "generation",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "sequence_index",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "start_offset",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "end_offset",
					DataType: entity.FieldTypeInt64,
				},
			},
		}

		err = conn.CreateCollection(ctx, schema, entity.DefaultShardNumber)
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		err = conn.CreateIndex(ctx, name, "embedding", idx, false)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	err = conn.LoadCollection(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	c.mu.Lock()
	c.ensured[dimension] = true
	c.mu.Unlock()

	logger.Info("Collection ready", zap.String("collection", name), zap.Int("dimension", dimension))
	return nil
}

// ReplaceTranscript writes a new generation of chunk vectors and then
// drops all older generations for the transcript. Searches that land in
// the window between the two steps see duplicates, never an empty
// transcript; duplicates are collapsed at read time.
func (c *Client) ReplaceTranscript(ctx context.Context, dimension int, transcriptID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	if err := c.EnsureCollection(ctx, dimension); err != nil {
		return err
	}

	conn, err := c.conn()
	if err != nil {
		return err
	}

	name := c.collectionName(dimension)
	generation := points[0].Generation

	pointIDs := make([]string, len(points))
	embeddings := make([][]float32, len(points))
	chunkIDs := make([]string, len(points))
	transcriptIDs := make([]string, len(points))
	texts := make([]string, len(points))
	generations := make([]int64, len(points))
	sequenceIndexes := make([]int64, len(points))
	startOffsets := make([]int64, len(points))
	endOffsets := make([]int64, len(points))

	for i, p := range points {
		if len(p.Vector) != dimension {
			return ragerr.DimensionMismatch(len(p.Vector), dimension)
		}

		pointIDs[i] = fmt.Sprintf("%s_g%d", p.Chunk.ID, p.Generation)
		embeddings[i] = p.Vector
		chunkIDs[i] = p.Chunk.ID
		transcriptIDs[i] = p.Chunk.TranscriptID
		texts[i] = p.Chunk.Text
		generations[i] = p.Generation
		sequenceIndexes[i] = int64(p.Chunk.SequenceIndex)
		startOffsets[i] = int64(p.Chunk.StartOffset)
		endOffsets[i] = int64(p.Chunk.EndOffset)
	}

	_, err = conn.Insert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("point_id", pointIDs),
		entity.NewColumnFloatVector("embedding", dimension, embeddings),
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("transcript_id", transcriptIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("generation", generations),
		entity.NewColumnInt64("sequence_index", sequenceIndexes),
		entity.NewColumnInt64("start_offset", startOffsets),
		entity.NewColumnInt64("end_offset", endOffsets),
	)
	if err != nil {
		return fmt.Errorf("failed to insert points: %w", err)
	}

	err = conn.Flush(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	expr := fmt.Sprintf(`transcript_id == "%s" && generation < %d`, escape(transcriptID), generation)
	err = conn.Delete(ctx, name, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete stale generations: %w", err)
	}

	logger.Info("Transcript vectors replaced",
		zap.String("transcript_id", transcriptID),
		zap.Int("points", len(points)),
		zap.Int64("generation", generation),
		zap.String("collection", name),
	)

	return nil
}

// DeleteTranscript removes the transcript's vectors from every collection
// the client has touched.
func (c *Client) DeleteTranscript(ctx context.Context, transcriptID string) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}

	c.mu.RLock()
	dims := make([]int, 0, len(c.ensured))
	for dim := range c.ensured {
		dims = append(dims, dim)
	}
	c.mu.RUnlock()

	expr := fmt.Sprintf(`transcript_id == "%s"`, escape(transcriptID))
	for _, dim := range dims {
		err := conn.Delete(ctx, c.collectionName(dim), "", expr)
		if err != nil {
			return fmt.Errorf("failed to delete transcript from %s: %w", c.collectionName(dim), err)
		}
	}

	logger.Info("Transcript vectors deleted", zap.String("transcript_id", transcriptID))
	return nil
}

// Search returns the nearest chunks in the collection matching the query
// vector's dimension. Duplicate chunk IDs from an in-flight reindex are
// collapsed to the newest generation.
func (c *Client) Search(ctx context.Context, queryVector []float32, topK int, transcriptIDs []string) ([]models.RetrievedChunk, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	dimension := len(queryVector)
	if err := c.EnsureCollection(ctx, dimension); err != nil {
		return nil, err
	}

	expr := ""
	if len(transcriptIDs) > 0 {
		quoted := make([]string, len(transcriptIDs))
		for i, id := range transcriptIDs {
			quoted[i] = fmt.Sprintf(`"%s"`, escape(id))
		}
		expr = fmt.Sprintf("transcript_id in [%s]", strings.Join(quoted, ", "))
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	// Over-fetch to survive generation-duplicate collapse.
	searchResult, err := conn.Search(
		ctx,
		c.collectionName(dimension),
		[]string{},
		expr,
		[]string{"chunk_id", "transcript_id", "text", "generation", "sequence_index", "start_offset", "end_offset"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"embedding",
		entity.COSINE,
		topK*2,
		sp,
	)
	if err != nil {
		return nil, ragerr.Unavailable("milvus", err)
	}

	type candidate struct {
		chunk      models.RetrievedChunk
		generation int64
	}
	best := make(map[string]candidate)
	var order []string

	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		transcriptCol := sr.Fields.GetColumn("transcript_id")
		textCol := sr.Fields.GetColumn("text")
		genCol := sr.Fields.GetColumn("generation")
		seqCol := sr.Fields.GetColumn("sequence_index")
		startCol := sr.Fields.GetColumn("start_offset")
		endCol := sr.Fields.GetColumn("end_offset")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			transcriptID, _ := transcriptCol.Get(i)
			text, _ := textCol.Get(i)
			generation, _ := genCol.Get(i)
			seq, _ := seqCol.Get(i)
			start, _ := startCol.Get(i)
			end, _ := endCol.Get(i)

			id := chunkID.(string)
			gen := generation.(int64)

			if existing, ok := best[id]; ok && existing.generation >= gen {
				continue
			}
			if _, ok := best[id]; !ok {
				order = append(order, id)
			}

			best[id] = candidate{
				generation: gen,
				chunk: models.RetrievedChunk{
					Chunk: models.Chunk{
						ID:            id,
						TranscriptID:  transcriptID.(string),
						Text:          text.(string),
						SequenceIndex: int(seq.(int64)),
						StartOffset:   int(start.(int64)),
						EndOffset:     int(end.(int64)),
					},
					Score:  float64(sr.Scores[i]),
					Source: models.SourceVector,
				},
			}
		}
	}

	results := make([]models.RetrievedChunk, 0, len(order))
	for _, id := range order {
		results = append(results, best[id].chunk)
	}
	if len(results) > topK {
		results = results[:topK]
	}

	logger.Debug("Vector search completed",
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
		zap.Int("dimension", dimension),
	)

	return results, nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
