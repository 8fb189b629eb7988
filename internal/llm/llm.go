// Package llm generates responses from an assembled prompt. The Ollama
// client talks to a local daemon; the template generator is the offline
// fallback so the engine keeps working without a model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiy/echomem/pkg/types"
)

// Generator produces an agent response from a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaGenerator calls a local Ollama daemon via /api/generate.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaGenerator constructs a client. Timeout bounds the whole
// completion, not just the connection.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate requests a single non-streamed completion.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(ollamaGenerateRequest{Model: g.model, Prompt: prompt})
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}
	return text, nil
}

// TemplateGenerator is the deterministic offline fallback. It answers from
// the user message shape alone, adjusting warmth to the relationship stage
// carried in the prompt context.
type TemplateGenerator struct {
	agentName string
}

// NewTemplateGenerator constructs the fallback generator.
func NewTemplateGenerator(agentName string) *TemplateGenerator {
	return &TemplateGenerator{agentName: agentName}
}

// Generate never fails. It extracts the user message from the prompt's
// final section and replies with a short template.
func (g *TemplateGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	message := lastSection(prompt, "MENSAGEM DO USUÁRIO:")
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "lembr"):
		return "Pode deixar, vou guardar isso. Eu posso te lembrar quando chegar a hora.", nil
	case strings.Contains(lower, "obrigad"):
		return "De nada! Estou por aqui sempre que precisar.", nil
	case strings.HasPrefix(lower, "oi") || strings.HasPrefix(lower, "olá") || strings.HasPrefix(lower, "bom dia"):
		return "Oi! Que bom falar com você. Como foi seu dia?", nil
	case strings.Contains(message, "?"):
		return "Boa pergunta! Me conta um pouco mais para eu entender melhor.", nil
	default:
		return "Entendi. Me conta mais sobre isso?", nil
	}
}

// RelationshipGreeting renders a stage-appropriate opening line.
func RelationshipGreeting(rel types.RelationshipState, agentName string) string {
	name := rel.GivenName
	if name == "" {
		name = agentName
	}
	switch rel.Stage {
	case types.StageCloseFriend:
		return "Oi! Que saudade, conta tudo!"
	case types.StageFriend:
		return "Oi! Que bom te ver de novo."
	case types.StageAcquaintance:
		return "Olá! Bom falar com você outra vez."
	default:
		return "Olá! Eu sou " + name + ". Prazer em te conhecer!"
	}
}

// lastSection returns the text after the last occurrence of the header.
func lastSection(prompt, header string) string {
	idx := strings.LastIndex(prompt, header)
	if idx < 0 {
		return prompt
	}
	rest := prompt[idx+len(header):]
	if cut := strings.Index(rest, "\n\n"); cut >= 0 {
		rest = rest[:cut]
	}
	return strings.TrimSpace(rest)
}
