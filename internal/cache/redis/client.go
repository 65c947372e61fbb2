package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/pkg/logger"
)

// Client caches composed answers and query embeddings. Answer keys are
// tagged per transcript through sets, so a reindex can invalidate
// exactly the answers that may have gone stale.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type CachedAnswer struct {
	Answer       string  `json:"answer"`
	QualityScore float64 `json:"quality_score"`
}

func (c *Client) SetAnswer(ctx context.Context, key string, transcriptIDs []string, answer *CachedAnswer, ttl time.Duration) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	answerKey := fmt.Sprintf("answer:%s", key)
	err = c.client.Set(ctx, answerKey, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set answer cache: %w", err)
	}

	for _, transcriptID := range transcriptIDs {
		tagKey := fmt.Sprintf("transcript_answers:%s", transcriptID)
		if err := c.client.SAdd(ctx, tagKey, answerKey).Err(); err != nil {
			logger.Warn("Failed to tag cached answer", zap.String("transcript_id", transcriptID), zap.Error(err))
		}
		c.client.Expire(ctx, tagKey, ttl)
	}

	logger.Debug("Answer cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, key string) (*CachedAnswer, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("answer:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get answer cache: %w", err)
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal answer: %w", err)
	}

	logger.Debug("Answer cache hit", zap.String("key", key))
	return &answer, true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	return embedding, true, nil
}

// InvalidateTranscript drops every cached answer that drew on the
// transcript.
func (c *Client) InvalidateTranscript(ctx context.Context, transcriptID string) error {
	tagKey := fmt.Sprintf("transcript_answers:%s", transcriptID)

	keys, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list tagged answers: %w", err)
	}

	for _, key := range keys {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		}
	}
	c.client.Del(ctx, tagKey)

	logger.Info("Transcript answer cache invalidated",
		zap.String("transcript_id", transcriptID),
		zap.Int("keys", len(keys)),
	)
	return nil
}
