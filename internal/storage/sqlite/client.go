package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT,
		transcript_ids TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		question TEXT NOT NULL,
		answer TEXT,
		status TEXT NOT NULL,
		quality_score REAL,
		groundedness REAL,
		completeness REAL,
		relevance REAL,
		overall REAL,
		retrieved_chunks TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		type TEXT NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_message ON feedback(message_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		transcript_id TEXT NOT NULL,
		text TEXT NOT NULL,
		sequence_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_transcript ON chunks(transcript_id);

	CREATE TABLE IF NOT EXISTS index_records (
		transcript_id TEXT PRIMARY KEY,
		indexed INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		embedding_model TEXT,
		generation INTEGER,
		reason TEXT,
		last_indexed_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateSession(session *models.Session) error {
	idsJSON, _ := json.Marshal(session.TranscriptIDs)

	query := `INSERT INTO sessions (id, name, transcript_ids, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, session.ID, session.Name, string(idsJSON), session.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	logger.Debug("Session created", zap.String("session_id", session.ID))
	return nil
}

func (c *Client) GetSession(id string) (*models.Session, error) {
	query := `SELECT id, name, transcript_ids, created_at FROM sessions WHERE id = ?`

	var session models.Session
	var idsJSON string
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&session.ID, &session.Name, &idsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	json.Unmarshal([]byte(idsJSON), &session.TranscriptIDs)
	session.CreatedAt = time.Unix(createdAt, 0)

	return &session, nil
}

func (c *Client) ListSessions() ([]models.Session, error) {
	query := `SELECT id, name, transcript_ids, created_at FROM sessions ORDER BY created_at DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var idsJSON string
		var createdAt int64

		err := rows.Scan(&s.ID, &s.Name, &idsJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(idsJSON), &s.TranscriptIDs)
		s.CreatedAt = time.Unix(createdAt, 0)
		sessions = append(sessions, s)
	}

	return sessions, nil
}

// DeleteSession removes the session; messages and feedback cascade through
// foreign keys.
func (c *Client) DeleteSession(id string) error {
	result, err := c.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ragerr.ErrNotFound)
	}

	logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

func (c *Client) InsertMessage(msg *models.Message) error {
	chunksJSON, _ := json.Marshal(msg.RetrievedChunks)

	var sessionID interface{}
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}

	var groundedness, completeness, relevance, overall interface{}
	if msg.QualityMetrics != nil {
		groundedness = msg.QualityMetrics.Groundedness
		completeness = msg.QualityMetrics.Completeness
		relevance = msg.QualityMetrics.Relevance
		overall = msg.QualityMetrics.Overall
	}

	query := `
		INSERT INTO messages (id, session_id, question, answer, status, quality_score,
			groundedness, completeness, relevance, overall, retrieved_chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		msg.ID,
		sessionID,
		msg.Question,
		msg.Answer,
		msg.Status,
		msg.QualityScore,
		groundedness,
		completeness,
		relevance,
		overall,
		string(chunksJSON),
		msg.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// FinalizeMessage performs the single pending -> answered|failed transition.
// Terminal messages are never touched again.
func (c *Client) FinalizeMessage(msg *models.Message) error {
	chunksJSON, _ := json.Marshal(msg.RetrievedChunks)

	var groundedness, completeness, relevance, overall interface{}
	if msg.QualityMetrics != nil {
		groundedness = msg.QualityMetrics.Groundedness
		completeness = msg.QualityMetrics.Completeness
		relevance = msg.QualityMetrics.Relevance
		overall = msg.QualityMetrics.Overall
	}

	query := `
		UPDATE messages SET answer = ?, status = ?, quality_score = ?,
			groundedness = ?, completeness = ?, relevance = ?, overall = ?, retrieved_chunks = ?
		WHERE id = ? AND status = ?
	`

	result, err := c.db.Exec(
		query,
		msg.Answer,
		msg.Status,
		msg.QualityScore,
		groundedness,
		completeness,
		relevance,
		overall,
		string(chunksJSON),
		msg.ID,
		models.MessagePending,
	)

	if err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("message %s not pending: %w", msg.ID, ragerr.ErrNotFound)
	}

	return nil
}

func (c *Client) GetMessage(id string) (*models.Message, error) {
	query := `
		SELECT id, session_id, question, answer, status, quality_score,
			groundedness, completeness, relevance, overall, retrieved_chunks, created_at
		FROM messages WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", id, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

func (c *Client) ListMessages(sessionID string) ([]models.Message, error) {
	query := `
		SELECT id, session_id, question, answer, status, quality_score,
			groundedness, completeness, relevance, overall, retrieved_chunks, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		messages = append(messages, *msg)
	}

	return messages, nil
}

// AttachMessageToSession anchors a previously session-less message so feedback
// can reference a durable thread.
func (c *Client) AttachMessageToSession(messageID, sessionID string) error {
	result, err := c.db.Exec(
		`UPDATE messages SET session_id = ? WHERE id = ? AND session_id IS NULL`,
		sessionID, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach message to session: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("message %s already anchored: %w", messageID, ragerr.ErrNotFound)
	}

	return nil
}

func (c *Client) InsertFeedback(fb *models.Feedback) error {
	query := `INSERT INTO feedback (message_id, type, comment, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, fb.MessageID, fb.Type, fb.Comment, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("message_id", fb.MessageID),
		zap.String("type", fb.Type),
	)

	return nil
}

func (c *Client) ListFeedback(messageID string) ([]models.Feedback, error) {
	query := `SELECT id, message_id, type, comment, created_at FROM feedback WHERE message_id = ? ORDER BY created_at ASC`

	rows, err := c.db.Query(query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var items []models.Feedback
	for rows.Next() {
		var fb models.Feedback
		var createdAt int64
		var comment sql.NullString

		err := rows.Scan(&fb.ID, &fb.MessageID, &fb.Type, &comment, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		fb.Comment = comment.String
		fb.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, fb)
	}

	return items, nil
}

// ReplaceTranscriptChunks swaps the stored chunks for a transcript in a
// single transaction. The lexical index rebuilds from this table on
// startup.
func (c *Client) ReplaceTranscriptChunks(transcriptID string, chunks []models.Chunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM chunks WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for _, chunk := range chunks {
		_, err = tx.Exec(
			`INSERT INTO chunks (id, transcript_id, text, sequence_index, start_offset, end_offset) VALUES (?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.TranscriptID, chunk.Text, chunk.SequenceIndex, chunk.StartOffset, chunk.EndOffset,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) DeleteTranscriptChunks(transcriptID string) error {
	_, err := c.db.Exec(`DELETE FROM chunks WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (c *Client) ListChunksByTranscript() (map[string][]models.Chunk, error) {
	rows, err := c.db.Query(`SELECT id, transcript_id, text, sequence_index, start_offset, end_offset FROM chunks ORDER BY transcript_id, sequence_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]models.Chunk)
	for rows.Next() {
		var chunk models.Chunk
		err := rows.Scan(&chunk.ID, &chunk.TranscriptID, &chunk.Text, &chunk.SequenceIndex, &chunk.StartOffset, &chunk.EndOffset)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		grouped[chunk.TranscriptID] = append(grouped[chunk.TranscriptID], chunk)
	}

	return grouped, nil
}

func (c *Client) UpsertIndexRecord(record *models.IndexRecord) error {
	query := `
		INSERT INTO index_records (transcript_id, indexed, chunk_count, embedding_model, generation, reason, last_indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transcript_id) DO UPDATE SET
			indexed = excluded.indexed,
			chunk_count = excluded.chunk_count,
			embedding_model = excluded.embedding_model,
			generation = excluded.generation,
			reason = excluded.reason,
			last_indexed_at = excluded.last_indexed_at
	`

	indexed := 0
	if record.Indexed {
		indexed = 1
	}

	_, err := c.db.Exec(
		query,
		record.TranscriptID,
		indexed,
		record.ChunkCount,
		record.EmbeddingModel,
		record.Generation,
		record.Reason,
		record.LastIndexedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert index record: %w", err)
	}

	return nil
}

func (c *Client) GetIndexRecord(transcriptID string) (*models.IndexRecord, error) {
	query := `
		SELECT transcript_id, indexed, chunk_count, embedding_model, generation, reason, last_indexed_at
		FROM index_records WHERE transcript_id = ?
	`

	var record models.IndexRecord
	var indexed int
	var lastIndexedAt int64
	var embeddingModel, reason sql.NullString
	var generation sql.NullInt64

	err := c.db.QueryRow(query, transcriptID).Scan(
		&record.TranscriptID,
		&indexed,
		&record.ChunkCount,
		&embeddingModel,
		&generation,
		&reason,
		&lastIndexedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("index record %s: %w", transcriptID, ragerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index record: %w", err)
	}

	record.Indexed = indexed == 1
	record.EmbeddingModel = embeddingModel.String
	record.Generation = generation.Int64
	record.Reason = reason.String
	record.LastIndexedAt = time.Unix(lastIndexedAt, 0)

	return &record, nil
}

func (c *Client) ListIndexRecords() ([]models.IndexRecord, error) {
	query := `
		SELECT transcript_id, indexed, chunk_count, embedding_model, generation, reason, last_indexed_at
		FROM index_records ORDER BY last_indexed_at DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list index records: %w", err)
	}
	defer rows.Close()

	var records []models.IndexRecord
	for rows.Next() {
		var record models.IndexRecord
		var indexed int
		var lastIndexedAt int64
		var embeddingModel, reason sql.NullString
		var generation sql.NullInt64

		err := rows.Scan(
			&record.TranscriptID,
			&indexed,
			&record.ChunkCount,
			&embeddingModel,
			&generation,
			&reason,
			&lastIndexedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record.Indexed = indexed == 1
		record.EmbeddingModel = embeddingModel.String
		record.Generation = generation.Int64
		record.Reason = reason.String
		record.LastIndexedAt = time.Unix(lastIndexedAt, 0)
		records = append(records, record)
	}

	return records, nil
}

func (c *Client) DeleteIndexRecord(transcriptID string) error {
	_, err := c.db.Exec(`DELETE FROM index_records WHERE transcript_id = ?`, transcriptID)
	if err != nil {
		return fmt.Errorf("failed to delete index record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var sessionID, answer, chunksJSON sql.NullString
	var qualityScore, groundedness, completeness, relevance, overall sql.NullFloat64
	var createdAt int64

	err := row.Scan(
		&msg.ID,
		&sessionID,
		&msg.Question,
		&answer,
		&msg.Status,
		&qualityScore,
		&groundedness,
		&completeness,
		&relevance,
		&overall,
		&chunksJSON,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	msg.SessionID = sessionID.String
	msg.Answer = answer.String
	msg.QualityScore = qualityScore.Float64
	if groundedness.Valid {
		msg.QualityMetrics = &models.QualityMetrics{
			Groundedness: groundedness.Float64,
			Completeness: completeness.Float64,
			Relevance:    relevance.Float64,
			Overall:      overall.Float64,
		}
	}
	if chunksJSON.Valid && chunksJSON.String != "" {
		json.Unmarshal([]byte(chunksJSON.String), &msg.RetrievedChunks)
	}
	msg.CreatedAt = time.Unix(createdAt, 0)

	return &msg, nil
}
