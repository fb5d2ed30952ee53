package aiquery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
)

const (
	// Rough estimate: one token per four characters.
	charsPerToken = 4

	// Share of the context window left for the actual text; the rest is
	// reserved for the prompt and response.
	usableFraction = 0.7

	compressChunkChars   = 2000
	maxCompressionRounds = 3
)

const compressTemplate = `Compress the following text, keeping ONLY information relevant to this query:

"%s"

Remove all irrelevant details, examples, and redundancy.
Keep technical details, names, and specific information related to the query.

Text to compress:
%s

Compressed version (be aggressive in removing irrelevant content):`

// Compressor shrinks oversized context text to fit a model's window,
// keeping only what is relevant to the query at hand.
type Compressor struct {
	client gateway.Client
	usable int
	logger *zap.Logger
}

// NewCompressor creates a compressor for a model with the given context
// window, in tokens.
func NewCompressor(client gateway.Client, contextTokens int, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{
		client: client,
		usable: int(float64(contextTokens) * usableFraction),
		logger: logger,
	}
}

// NeedsCompression reports whether text exceeds the usable window.
func (c *Compressor) NeedsCompression(text string) bool {
	return len(text)/charsPerToken > c.usable
}

// Compress reduces text until it fits, up to three rounds. Each round
// compresses fixed-size chunks independently; a round that shrinks the
// text by less than ten percent ends the attempt early.
func (c *Compressor) Compress(ctx context.Context, text, query string) (string, int, error) {
	if !c.NeedsCompression(text) {
		return text, 0, nil
	}

	rounds := 0
	current := text
	for c.NeedsCompression(current) && rounds < maxCompressionRounds {
		rounds++
		c.logger.Info("compressing context",
			zap.Int("round", rounds),
			zap.Int("chars", len(current)))

		chunks := splitIntoChunks(current, compressChunkChars)
		compressed := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			out, err := c.client.Complete(ctx, fmt.Sprintf(compressTemplate, query, chunk))
			if err != nil {
				return "", rounds, fmt.Errorf("compression round %d: %w", rounds, err)
			}
			compressed = append(compressed, out)
		}
		current = strings.Join(compressed, "\n\n")

		ratio := float64(len(current)) / float64(len(text))
		if ratio > 0.9 {
			c.logger.Warn("compression ineffective, stopping", zap.Float64("ratio", ratio))
			break
		}
	}

	return current, rounds, nil
}

// splitIntoChunks breaks text into word-aligned chunks of about size
// characters.
func splitIntoChunks(text string, size int) []string {
	words := strings.Fields(text)
	var chunks []string
	var current []string
	currentSize := 0

	for _, word := range words {
		wordSize := len(word) + 1
		if currentSize+wordSize > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = []string{word}
			currentSize = wordSize
		} else {
			current = append(current, word)
			currentSize += wordSize
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
