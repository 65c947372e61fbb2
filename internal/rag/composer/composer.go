package composer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

// InsufficientInformation is returned verbatim when retrieval finds no
// usable context. No LLM call is made in that case.
const InsufficientInformation = "I don't have enough information in the selected transcripts to answer that question."

const defaultHistoryBudget = 4000

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Composer builds grounded prompts from retrieved chunks and prior
// conversation turns, and generates the final answer.
type Composer struct {
	llm           Completer
	historyBudget int
}

type Request struct {
	Question    string
	Chunks      []models.RetrievedChunk
	History     []models.Message
	Model       string
	Temperature float32
}

type Answer struct {
	Text      string
	Citations []Citation
	Grounded  bool
}

// Citation ties a numbered marker in the answer back to the chunk it
// quotes.
type Citation struct {
	Number  int
	ChunkID string
}

func New(completer Completer, historyBudget int) *Composer {
	if historyBudget <= 0 {
		historyBudget = defaultHistoryBudget
	}
	return &Composer{llm: completer, historyBudget: historyBudget}
}

func (c *Composer) Compose(ctx context.Context, req Request) (*Answer, error) {
	if len(req.Chunks) == 0 {
		logger.Info("No context retrieved, returning insufficient-information answer")
		return &Answer{Text: InsufficientInformation, Grounded: false}, nil
	}

	systemPrompt := `You answer questions about meeting and call transcripts.

Rules:
- Use ONLY the numbered transcript excerpts provided. Never draw on outside knowledge.
- Cite every claim with the excerpt number in square brackets, e.g. [1] or [2][3].
- If the excerpts only partially cover the question, answer what they cover and say what is missing.
- If the excerpts do not answer the question at all, say so plainly.
- Be concise and direct.`

	userPrompt := c.buildUserPrompt(req)

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Model:        req.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    1024,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerr.ErrGenerationFailure, err)
	}

	answer := &Answer{
		Text:      strings.TrimSpace(resp.Content),
		Citations: extractCitations(resp.Content, req.Chunks),
		Grounded:  true,
	}

	logger.Info("Answer composed",
		zap.Int("context_chunks", len(req.Chunks)),
		zap.Int("citations", len(answer.Citations)),
		zap.Int("answer_length", len(answer.Text)),
	)

	return answer, nil
}

func (c *Composer) buildUserPrompt(req Request) string {
	var b strings.Builder

	history := truncateHistory(req.History, c.historyBudget)
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			b.WriteString(fmt.Sprintf("User: %s\nAssistant: %s\n", msg.Question, msg.Answer))
		}
		b.WriteString("\n")
	}

	b.WriteString("Transcript excerpts:\n")
	for i, chunk := range req.Chunks {
		b.WriteString(fmt.Sprintf("\n[%d] %s\n", i+1, chunk.Chunk.Text))
	}

	b.WriteString(fmt.Sprintf("\nQuestion: %s", req.Question))

	return b.String()
}

// truncateHistory drops the oldest turns first until the remaining
// history fits the character budget. Failed turns are skipped.
func truncateHistory(history []models.Message, budget int) []models.Message {
	var kept []models.Message
	total := 0

	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Status != models.MessageAnswered {
			continue
		}

		size := len(msg.Question) + len(msg.Answer)
		if total+size > budget {
			break
		}

		kept = append([]models.Message{msg}, kept...)
		total += size
	}

	return kept
}

// extractCitations scans the answer for [n] markers that map to a
// provided excerpt.
func extractCitations(answer string, chunks []models.RetrievedChunk) []Citation {
	seen := make(map[int]bool)
	var citations []Citation

	for i := 0; i < len(answer); i++ {
		if answer[i] != '[' {
			continue
		}
		end := strings.IndexByte(answer[i:], ']')
		if end < 0 {
			break
		}

		num := 0
		valid := end > 1
		for _, r := range answer[i+1 : i+end] {
			if r < '0' || r > '9' {
				valid = false
				break
			}
			num = num*10 + int(r-'0')
		}

		if valid && num >= 1 && num <= len(chunks) && !seen[num] {
			seen[num] = true
			citations = append(citations, Citation{
				Number:  num,
				ChunkID: chunks[num-1].Chunk.ID,
			})
		}

		i += end
	}

	return citations
}
