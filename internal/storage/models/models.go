package models

import "time"

// Chunk is the unit of indexing and retrieval: a bounded passage of transcript
// text with character offsets into the original. Chunks are immutable; a
// reindex produces a new generation and deletes the old one.
type Chunk struct {
	ID            string `json:"id"`
	TranscriptID  string `json:"transcript_id"`
	Text          string `json:"text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	SequenceIndex int    `json:"sequence_index"`
}

// RetrievedChunk is a Chunk plus its retrieval score and the ranking that
// produced it. Ephemeral; only snapshots inside Messages are persisted.
type RetrievedChunk struct {
	Chunk  Chunk   `json:"chunk"`
	Score  float64 `json:"score"`
	Source string  `json:"source"` // vector | bm25 | hybrid
}

const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
	SourceHybrid = "hybrid"
)

// IndexRecord tracks per-transcript index status. A transcript counts as
// indexed only when its chunk count is positive and every chunk's embedding
// made it into the vector store.
type IndexRecord struct {
	TranscriptID   string    `json:"transcript_id"`
	Indexed        bool      `json:"indexed"`
	ChunkCount     int       `json:"chunk_count"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Generation     int64     `json:"generation,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	LastIndexedAt  time.Time `json:"last_indexed_at"`
}

const (
	ReasonEmptyTranscript        = "empty transcript"
	ReasonVectorStoreUnavailable = "vector store unavailable"
	ReasonEmbeddingFailed        = "embedding failed"
)

type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	TranscriptIDs []string  `json:"transcript_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message states. A message starts pending, then lands in exactly one
// terminal state. Messages are append-only and never edited.
const (
	MessagePending  = "pending"
	MessageAnswered = "answered"
	MessageFailed   = "failed"
)

type Message struct {
	ID              string           `json:"id"`
	SessionID       string           `json:"session_id,omitempty"`
	Question        string           `json:"question"`
	Answer          string           `json:"answer"`
	Status          string           `json:"status"`
	QualityScore    float64          `json:"quality_score"`
	QualityMetrics  *QualityMetrics  `json:"quality_metrics,omitempty"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// QualityMetrics holds the grader's component scores, each in [0,1].
// Overall is scaled to 0-5 for display.
type QualityMetrics struct {
	Groundedness float64 `json:"groundedness"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Overall      float64 `json:"overall_score"`
}

const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

type Feedback struct {
	ID        int       `json:"id"`
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
