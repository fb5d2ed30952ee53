// Package aiquery layers typed question shapes over the gateway: lettered
// multiple choice, single continuous word, open prose, and raw file
// content. Each shape pairs a strict prompt template with a forgiving
// parser that grades its own confidence.
package aiquery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
)

// Query asks structured questions through a gateway client.
type Query struct {
	client     gateway.Client
	compressor *Compressor
	logger     *zap.Logger
}

// New creates a query helper. compressor may be nil, in which case
// context text is passed through untouched.
func New(client gateway.Client, compressor *Compressor, logger *zap.Logger) *Query {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Query{client: client, compressor: compressor, logger: logger}
}

// MultipleChoiceResult is a parsed lettered answer.
type MultipleChoiceResult struct {
	Letter            string
	Index             int
	Value             string
	Confidence        float64
	Raw               string
	CompressionRounds int
}

// SingleWordResult is a parsed single continuous string.
type SingleWordResult struct {
	Word              string
	Confidence        float64
	Raw               string
	CompressionRounds int
}

// OpenResult is a free-form prose response.
type OpenResult struct {
	Content           string
	Raw               string
	CompressionRounds int
}

// FileContentResult is a response cleaned for writing to a file.
type FileContentResult struct {
	Content           string
	Raw               string
	CompressionRounds int
}

const multipleChoiceTemplate = `Based on the context provided, answer the following question by selecting the best option.

Context: %s

Question: %s

Options:
%s

Instructions:
- Choose the BEST answer from the options above
- Respond with ONLY the letter (A, B, C, etc.) of your chosen answer
- Do not include explanations or additional text
- Be decisive and select exactly one option

Your answer:`

const singleWordTemplate = `Based on the context provided, answer the following question with a single continuous string.

Context: %s

Question: %s

CRITICAL OUTPUT REQUIREMENTS:
- Output EXACTLY ONE continuous string with NO spaces, NO tabs, NO newlines
- Do NOT add quotes, apostrophes, backticks, or ANY punctuation marks
- The output will be read LITERALLY character-by-character as raw text
- If your answer would normally be "hello world", output: helloworld
- NO whitespace characters allowed ANYWHERE in your response

Your answer:`

const openTemplate = `Write a comprehensive response to the following prompt.

Context: %s

Prompt: %s

Instructions:
- Provide a detailed, well-structured response
- Use clear reasoning and examples where appropriate
- Write in a professional, informative tone
- Structure your response logically with proper flow

Your response:`

const fileContentTemplate = `Generate the complete content for a file based on the requirements below.

Context: %s

Requirements: %s

Instructions:
- Generate ONLY the file content, no explanations
- Include all necessary components as specified
- Use proper formatting and syntax
- Do not include markdown code blocks or backticks
- Start immediately with the actual file content

File content:`

// MultipleChoice asks the model to pick one of the lettered options.
// The answer always lands on a valid option; unparseable responses
// default to the first one with low confidence.
func (q *Query) MultipleChoice(ctx context.Context, question string, options []string, contextText string) (*MultipleChoiceResult, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("multiple choice requires at least one option")
	}

	contextText, rounds, err := q.compress(ctx, contextText, question)
	if err != nil {
		return nil, err
	}

	lettered := make([]string, len(options))
	for i, option := range options {
		lettered[i] = fmt.Sprintf("%c. %s", 'A'+i, option)
	}
	prompt := fmt.Sprintf(multipleChoiceTemplate, orDefaultContext(contextText), question, strings.Join(lettered, "\n"))

	response, err := q.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	letter, index, confidence := ParseMultipleChoice(response, options)
	if confidence <= 0.3 {
		q.logger.Warn("could not parse multiple choice response", zap.String("response", response))
	}
	return &MultipleChoiceResult{
		Letter:            letter,
		Index:             index,
		Value:             options[index],
		Confidence:        confidence,
		Raw:               response,
		CompressionRounds: rounds,
	}, nil
}

// SingleWord asks for one continuous string with no whitespace.
func (q *Query) SingleWord(ctx context.Context, question string, contextText string) (*SingleWordResult, error) {
	contextText, rounds, err := q.compress(ctx, contextText, question)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(singleWordTemplate, orDefaultContext(contextText), question)
	response, err := q.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	word, confidence := ParseSingleWord(response)
	return &SingleWordResult{
		Word:              word,
		Confidence:        confidence,
		Raw:               response,
		CompressionRounds: rounds,
	}, nil
}

// Open asks for a detailed free-form response.
func (q *Query) Open(ctx context.Context, prompt string, contextText string) (*OpenResult, error) {
	contextText, rounds, err := q.compress(ctx, contextText, prompt)
	if err != nil {
		return nil, err
	}

	full := fmt.Sprintf(openTemplate, orDefaultContext(contextText), prompt)
	response, err := q.client.Complete(ctx, full)
	if err != nil {
		return nil, err
	}

	return &OpenResult{
		Content:           strings.TrimSpace(response),
		Raw:               response,
		CompressionRounds: rounds,
	}, nil
}

// FileContent asks for file content and strips code fences the model
// adds despite instructions.
func (q *Query) FileContent(ctx context.Context, requirements string, contextText string) (*FileContentResult, error) {
	contextText, rounds, err := q.compress(ctx, contextText, requirements)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(fileContentTemplate, orDefaultContext(contextText), requirements)
	response, err := q.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return &FileContentResult{
		Content:           CleanFileContent(response),
		Raw:               response,
		CompressionRounds: rounds,
	}, nil
}

func (q *Query) compress(ctx context.Context, text, focus string) (string, int, error) {
	if q.compressor == nil || text == "" {
		return text, 0, nil
	}
	return q.compressor.Compress(ctx, text, focus)
}

func orDefaultContext(contextText string) string {
	if contextText == "" {
		return "No additional context provided"
	}
	return contextText
}
