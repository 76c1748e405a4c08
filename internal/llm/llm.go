// Package llm talks to the generation backends. Answers are structured
// JSON with inline citations so the UI can link claims back to pages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"lessonforge/internal/indexer"
	"lessonforge/internal/retriever"

	"github.com/sashabaranov/go-openai"
)

// Footnote is a single inline citation.
type Footnote struct {
	ID       int    `json:"id"`
	Document string `json:"document"`
	Page     int    `json:"page"`
}

// Answer is a structured response from the generation backend.
type Answer struct {
	Question         string     `json:"question"`
	Thinking         string     `json:"thinking,omitempty"`
	Answer           string     `json:"answer"`
	Documents        []string   `json:"documents"`
	Pages            []int      `json:"pages"`
	Footnotes        []Footnote `json:"footnotes,omitempty"`
	Confidence       float64    `json:"confidence"`
	ConfidenceReason string     `json:"confidence_reason,omitempty"`
}

// Provider is a generation backend. AnswerQuestion runs the retrieval-style
// cited answer; Complete runs a prepared grounding prompt (the unit-context
// path) and returns the raw text.
type Provider interface {
	AnswerQuestion(ctx context.Context, question string, results []retriever.Result, outlines []indexer.DocumentOutline) (*Answer, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider creates the configured backend.
func NewProvider(providerName, apiKey, model string) (Provider, error) {
	providerName = strings.ToLower(providerName)
	switch providerName {
	case "openai", "":
		if model == "" {
			model = openai.GPT4o
		}
		return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
	case "huggingface":
		if model == "" {
			model = "mistralai/Mistral-7B-Instruct-v0.3"
		}
		return &HuggingFaceProvider{apiKey: apiKey, model: model}, nil
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		return &AnthropicProvider{apiKey: apiKey, model: model}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", providerName)
	}
}

// FormatContext builds the context string for prompts. Document outlines
// go first so the model sees the corpus structure (which units exist and
// where), then the retrieved excerpts with their full parent pages.
func FormatContext(results []retriever.Result, outlines []indexer.DocumentOutline) string {
	var parts []string

	if len(outlines) > 0 {
		var outlineParts []string
		for _, o := range outlines {
			entry := fmt.Sprintf("Document: %s (%s)", o.Document, o.Title)
			if len(o.Sections) > 0 {
				var secNames []string
				for _, sec := range o.Sections {
					secNames = append(secNames, fmt.Sprintf("%s (pp.%d-%d)", sec.Name, sec.PageStart, sec.PageEnd))
				}
				entry += "\nUnits: " + strings.Join(secNames, "; ")
			}
			outlineParts = append(outlineParts, entry)
		}
		parts = append(parts, "=== DOCUMENT OUTLINES ===\n\n"+strings.Join(outlineParts, "\n\n"))
	}

	parts = append(parts, "\n=== RETRIEVED EXCERPTS ===")
	for i, r := range results {
		text := r.ParentText
		if text == "" {
			text = r.Text // legacy chunks without parent
		}
		header := fmt.Sprintf("[Source %d] Document: %s | Page: %d", i+1, r.Document, r.PageNumber)
		if r.Section != "" {
			header += " | Unit: " + r.Section
		}
		parts = append(parts, fmt.Sprintf("%s\n%s", header, text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

var baseSystemPrompt = `You are a precise teaching assistant. You will be given a question and relevant excerpts from a student's uploaded textbooks and course material.

Your task:
1. THINK step-by-step through the question before answering
2. Answer the question accurately based ONLY on the provided context
3. Use inline footnote markers like [1], [2] in your answer to cite specific claims
4. Be precise and use the textbook's own terminology and definitions

Respond in this exact JSON format:
{
  "thinking": "Let me work through the question. The relevant unit is... [your reasoning here]",
  "answer": "Photosynthesis converts light energy into chemical energy[1], producing glucose and oxygen[2].",
  "footnotes": [
    {"id": 1, "document": "biology.pdf", "page": 3},
    {"id": 2, "document": "biology.pdf", "page": 12}
  ],
  "confidence": 0.95,
  "confidence_reason": "Definition stated verbatim in the unit"
}

Thinking rules:
- In the "thinking" field, reason through the problem step by step
- Identify which sources and units are relevant and why
- For listing questions (e.g. "name all the stages"): go through EVERY source one by one and track what you find
- Cross-check your findings before writing the final answer
- The thinking field is shown to students who want to verify your reasoning

Answer rules:
- Place [N] markers inline where a specific fact comes from that source
- Each footnote has an id (matching the marker), document name, and page number
- confidence is 0.0 to 1.0 based on how well the context answers the question
- confidence_reason is a brief explanation (1 sentence) of why the score is what it is
- If the answer cannot be found in the context, set confidence = 0.0 and say so
- Use the exact terms, formulas, and figures from the source material, not paraphrases
- When multiple units are relevant, cross-reference ALL of them before forming your answer

Also keep the legacy fields for backward compatibility:
- "documents": array of all cited document names
- "pages": array of corresponding page numbers`

// ==========================================
// OpenAI Provider
// ==========================================
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func (p *OpenAIProvider) AnswerQuestion(ctx context.Context, question string, results []retriever.Result, outlines []indexer.DocumentOutline) (*Answer, error) {
	contextStr := FormatContext(results, outlines)
	userPrompt := fmt.Sprintf("**Question:** %s\n\n**Context:**\n\n%s", question, contextStr)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: baseSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("openai error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai empty response")
	}

	return parseAnswer(resp.Choices[0].Message.Content, question)
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("openai error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ==========================================
// HuggingFace Provider (v1/chat/completions)
// ==========================================
type HuggingFaceProvider struct {
	apiKey string
	model  string
}

func (p *HuggingFaceProvider) AnswerQuestion(ctx context.Context, question string, results []retriever.Result, outlines []indexer.DocumentOutline) (*Answer, error) {
	contextStr := FormatContext(results, outlines)
	userPrompt := fmt.Sprintf("Question: %s\n\nContext:\n%s", question, contextStr)

	content, err := p.chat(ctx, baseSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	return parseAnswer(content, question)
}

func (p *HuggingFaceProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.chat(ctx, "", prompt)
}

func (p *HuggingFaceProvider) chat(ctx context.Context, system, user string) (string, error) {
	var messages []map[string]string
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	reqBody, _ := json.Marshal(map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"max_tokens":  2048,
		"temperature": 0.1,
		"stream":      false,
	})

	url := "https://router.huggingface.co/hf-inference/v1/chat/completions"
	req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface req error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("huggingface api error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("huggingface json error: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("huggingface empty response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// ==========================================
// Anthropic Provider
// ==========================================
type AnthropicProvider struct {
	apiKey string
	model  string
}

func (p *AnthropicProvider) AnswerQuestion(ctx context.Context, question string, results []retriever.Result, outlines []indexer.DocumentOutline) (*Answer, error) {
	contextStr := FormatContext(results, outlines)
	userPrompt := fmt.Sprintf("Question: %s\n\nContext:\n%s", question, contextStr)

	fullText, err := p.messages(ctx, baseSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	log.Printf("Anthropic raw response (first 200 chars): %.200s", fullText)
	return parseAnswer(fullText, question)
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.messages(ctx, "", prompt)
}

func (p *AnthropicProvider) messages(ctx context.Context, system, user string) (string, error) {
	body := map[string]interface{}{
		"model":       p.model,
		"max_tokens":  2048,
		"temperature": 0.1,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	}
	if system != "" {
		body["system"] = system
	}
	reqBody, _ := json.Marshal(body)

	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.anthropic.com/v1/messages", bytes.NewBuffer(reqBody))
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic req error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic api error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var anthResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return "", fmt.Errorf("anthropic json decode error: %w", err)
	}

	if len(anthResp.Content) == 0 {
		return "", fmt.Errorf("anthropic empty response")
	}

	// Some models return multiple content blocks
	var fullText string
	for _, block := range anthResp.Content {
		if block.Type == "" || block.Type == "text" {
			fullText += block.Text
		}
	}
	if fullText == "" {
		return "", fmt.Errorf("anthropic: no text content in response")
	}
	return fullText, nil
}

// parseAnswer extracts the structured answer from LLM text. Malformed JSON
// degrades to a raw-text answer, never an error the user sees as a blank
// bubble. Models sometimes prefix the JSON with prose or return page
// numbers as strings, so parsing is lenient on both counts.
func parseAnswer(rawText string, question string) (*Answer, error) {
	rawText = strings.TrimPrefix(rawText, "```json\n")
	rawText = strings.TrimPrefix(rawText, "```\n")
	rawText = strings.Split(rawText, "```")[0]
	rawText = strings.TrimSpace(rawText)

	// Strip any leading/trailing prose around the JSON object
	jsonText := rawText
	if start := strings.Index(jsonText, "{"); start >= 0 {
		if end := strings.LastIndex(jsonText, "}"); end > start {
			jsonText = jsonText[start : end+1]
		}
	}

	var parsed struct {
		Thinking         string          `json:"thinking"`
		Answer           string          `json:"answer"`
		Documents        []string        `json:"documents"`
		Pages            json.RawMessage `json:"pages"`
		Footnotes        json.RawMessage `json:"footnotes"`
		Confidence       float64         `json:"confidence"`
		ConfidenceReason string          `json:"confidence_reason"`
	}
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return &Answer{
			Question:   question,
			Answer:     rawText,
			Confidence: 0.5,
		}, nil
	}

	answerText := parsed.Answer
	if strings.TrimSpace(answerText) == "" {
		answerText = rawText
	}

	return &Answer{
		Question:         question,
		Thinking:         parsed.Thinking,
		Answer:           answerText,
		Documents:        parsed.Documents,
		Pages:            parsePages(parsed.Pages),
		Footnotes:        parseFootnotes(parsed.Footnotes),
		Confidence:       parsed.Confidence,
		ConfidenceReason: parsed.ConfidenceReason,
	}, nil
}

// parsePages tries []int first, then a mixed array where entries may be
// strings.
func parsePages(raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}
	var ints []int
	if json.Unmarshal(raw, &ints) == nil {
		return ints
	}
	var loose []interface{}
	if json.Unmarshal(raw, &loose) != nil {
		return nil
	}
	for _, v := range loose {
		if n := looseInt(v); n != 0 {
			ints = append(ints, n)
		}
	}
	return ints
}

func parseFootnotes(raw json.RawMessage) []Footnote {
	if len(raw) == 0 {
		return nil
	}
	var fns []Footnote
	if json.Unmarshal(raw, &fns) == nil {
		return fns
	}
	var loose []struct {
		ID       interface{} `json:"id"`
		Document string      `json:"document"`
		Page     interface{} `json:"page"`
	}
	if json.Unmarshal(raw, &loose) != nil {
		return nil
	}
	for _, f := range loose {
		fns = append(fns, Footnote{ID: looseInt(f.ID), Document: f.Document, Page: looseInt(f.Page)})
	}
	return fns
}

func looseInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if p, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return p
		}
	}
	return 0
}
