// Package llm implements the lead extraction adapter over the OpenAI API.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/core/service/links"
	"scout_server/pkg/apperr"
)

const (
	DefaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 2048
	defaultTemperature = 0.2

	// maxEmailTextChars truncates pathological bodies before prompting.
	maxEmailTextChars = 12000
)

// =============================================================================
// OpenAI Extractor
// =============================================================================

// Extractor implements out.LeadExtractorPort using JSON-mode chat completion.
type Extractor struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	zlog        zerolog.Logger
}

// ExtractorConfig holds OpenAI client configuration.
type ExtractorConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "extractor").Logger()

	return &Extractor{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		zlog:        zlog,
	}
}

const systemPrompt = `You are a job-lead extraction assistant. You receive the text of one email
plus a list of links found in it, and you return every distinct job
opportunity the email advertises.

Rules:
- Only report opportunities actually present in the email. Never invent roles.
- One lead per distinct opportunity. A digest email yields multiple leads.
- Each lead must reference one of the provided links (the "url" field).
- "type" is one of: job_posting, job_list, company_page.
- "confidence" is your certainty in [0,1] that the lead is a real, current
  job opportunity for the reader.
- Leave "title", "company" or "location" empty when the email does not say.

Respond with a JSON object: {"leads": [{"url", "type", "title", "company",
"location", "confidence"}, ...]}. No leads means {"leads": []}.`

// extractionResponse mirrors the JSON the model is instructed to return.
type extractionResponse struct {
	Leads []struct {
		URL        string  `json:"url"`
		Type       string  `json:"type"`
		Title      string  `json:"title"`
		Company    string  `json:"company"`
		Location   string  `json:"location"`
		Confidence float64 `json:"confidence"`
	} `json:"leads"`
}

// Extract runs one extraction call. The call is all-or-nothing: a transport
// or parse failure yields an error and no partial leads.
func (e *Extractor) Extract(ctx context.Context, input *out.ExtractionInput) (*out.ExtractionResult, error) {
	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, apperr.ExternalError("openai", err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperr.ExternalError("openai", fmt.Errorf("empty completion"))
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, apperr.ExternalError("openai", fmt.Errorf("unparseable completion: %w", err))
	}

	result := &out.ExtractionResult{
		Model: resp.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, l := range parsed.Leads {
		cand := toCandidate(l.URL, l.Type, l.Title, l.Company, l.Location, l.Confidence)
		if cand != nil {
			result.Leads = append(result.Leads, *cand)
		}
	}

	e.zlog.Debug().
		Str("model", result.Model).
		Int("total_tokens", result.Usage.TotalTokens).
		Int("leads", len(result.Leads)).
		Dur("duration", time.Since(start)).
		Msg("extraction completed")

	return result, nil
}

// toCandidate validates and normalizes one model-reported lead. Leads with
// unusable URLs are dropped rather than failing the whole call.
func toCandidate(rawURL, linkType, title, company, location string, confidence float64) *domain.LeadCandidate {
	if !links.IsValidURL(rawURL) {
		return nil
	}

	lt := domain.LinkType(linkType)
	switch lt {
	case domain.LinkTypeJobPosting, domain.LinkTypeJobList, domain.LinkTypeCompanyPage:
	default:
		lt = domain.LinkTypeOther
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	cand := &domain.LeadCandidate{
		URL:           rawURL,
		NormalizedURL: links.NormalizeURL(rawURL),
		Type:          lt,
		Title:         strings.TrimSpace(title),
		Company:       strings.TrimSpace(company),
		Location:      strings.TrimSpace(location),
		Confidence:    confidence,
	}

	if cand.Company != "" && cand.Title != "" {
		cand.DedupeKey = strings.ToLower(cand.Company) + "::" + strings.ToLower(cand.Title)
	} else {
		cand.DedupeKey = cand.NormalizedURL
	}
	return cand
}

// buildUserPrompt renders the email and its candidate links for the model.
func buildUserPrompt(input *out.ExtractionInput) string {
	var b strings.Builder

	if input.CustomInstructions != "" {
		b.WriteString("Additional guidance from the user:\n")
		b.WriteString(input.CustomInstructions)
		b.WriteString("\n\n")
	}

	b.WriteString("Links found in the email:\n")
	if len(input.Links) == 0 {
		b.WriteString("(none)\n")
	}
	for _, l := range input.Links {
		fmt.Fprintf(&b, "- %s (classified: %s", l.URL, l.Type)
		if l.AnchorText != "" {
			fmt.Fprintf(&b, ", anchor: %q", l.AnchorText)
		}
		b.WriteString(")\n")
	}

	b.WriteString("\nEmail text:\n")
	text := input.EmailText
	if len(text) > maxEmailTextChars {
		text = text[:maxEmailTextChars]
	}
	b.WriteString(text)

	return b.String()
}
