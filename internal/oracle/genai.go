package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/starford/mira/internal/structure"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GenAI calls a Gemini model.
type GenAI struct {
	client *genai.Client
	model  string
}

var _ Oracle = (*GenAI)(nil)

// NewGenAI creates a client for the Gemini API.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: genai: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: genai: new client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

func (g *GenAI) generate(ctx context.Context, p Prompt, mime string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		ResponseMIMEType:  mime,
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), cfg)
	if err != nil {
		return "", fmt.Errorf("oracle: genai: generate: %w", err)
	}
	return resp.Text(), nil
}

// GenerateContract asks the model for verification source.
func (g *GenAI) GenerateContract(ctx context.Context, meta structure.Metadata, records []structure.Record) (Contract, error) {
	p := Prompt{System: contractSystemPrompt, User: contractUserPrompt(meta, records)}
	text, err := g.generate(ctx, p, "")
	if err != nil {
		return Contract{}, err
	}
	return Contract{Prompt: p, Script: stripFences(text)}, nil
}

type removalResponse struct {
	Reasoning    string   `json:"reasoning"`
	RemoveBlocks [][3]int `json:"remove_blocks"`
}

// SuggestRemoval asks the model for the next removal layer.
func (g *GenAI) SuggestRemoval(ctx context.Context, remaining []structure.Record, _ int) (Suggestion, error) {
	p := Prompt{System: deconstructSystemPrompt, User: deconstructUserPrompt(remaining)}
	text, err := g.generate(ctx, p, "application/json")
	if err != nil {
		return Suggestion{}, err
	}
	s, err := parseRemoval(text)
	if err != nil {
		return Suggestion{}, err
	}
	s.Prompt = p
	return s, nil
}

func parseRemoval(text string) (Suggestion, error) {
	var rr removalResponse
	if err := json.Unmarshal([]byte(stripFences(text)), &rr); err != nil {
		return Suggestion{}, fmt.Errorf("oracle: decode removal: %w", err)
	}
	s := Suggestion{Reasoning: rr.Reasoning}
	for _, v := range rr.RemoveBlocks {
		s.Remove = append(s.Remove, structure.Position{X: v[0], Y: v[1], Z: v[2]})
	}
	return s, nil
}

// Explain asks the model why the broken build fails.
func (g *GenAI) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	text, err := g.generate(ctx, Prompt{System: explainSystemPrompt, User: explainUserPrompt(req)}, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// stripFences removes a surrounding markdown code fence, which models add
// despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
