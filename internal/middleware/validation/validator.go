package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	MaxQuestionLength  int
	MaxTranscriptBytes int
	MaxTopK            int
}

// Middleware validates request bodies on ask and indexing routes before
// they reach the pipeline.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 5000
	}
	if cfg.MaxTranscriptBytes == 0 {
		cfg.MaxTranscriptBytes = 10 * 1024 * 1024
	}
	if cfg.MaxTopK == 0 {
		cfg.MaxTopK = 50
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		path := c.Path()

		switch {
		case strings.HasSuffix(path, "/ask"):
			if err := validateAsk(c, cfg); err != nil {
				return err
			}
		case strings.Contains(path, "/transcripts/") && strings.HasSuffix(path, "/index"):
			if err := validateIndex(c, cfg); err != nil {
				return err
			}
		}

		return c.Next()
	}
}

func validateAsk(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Question    string   `json:"question"`
		Temperature *float64 `json:"temperature"`
		Options     struct {
			TopK *int `json:"top_k"`
		} `json:"options"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}
	if len(question) > cfg.MaxQuestionLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question exceeds maximum length",
		})
	}

	if req.Options.TopK != nil && (*req.Options.TopK < 1 || *req.Options.TopK > cfg.MaxTopK) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "top_k out of range",
		})
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "temperature must be between 0 and 2",
		})
	}

	return nil
}

func validateIndex(c *fiber.Ctx, cfg Config) error {
	if len(c.Body()) > cfg.MaxTranscriptBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Transcript exceeds maximum size",
		})
	}

	var req struct {
		Text *string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}
	if req.Text == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text field is required",
		})
	}

	return nil
}
