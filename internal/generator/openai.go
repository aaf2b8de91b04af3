package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT4oMini

// OpenAIResponder is the primary generation path.
type OpenAIResponder struct {
	client *openai.Client
	model  string
}

// NewOpenAIResponder builds a responder against the OpenAI API. baseURL is
// optional and supports OpenAI-compatible local endpoints.
func NewOpenAIResponder(apiKey, baseURL, model string) (*OpenAIResponder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// GenerateResponse asks the model for a reply in the business's voice. The
// supervisor's routing decision and safety findings travel in the system
// prompt so the model answers for the right stage.
func (r *OpenAIResponder) GenerateResponse(ctx context.Context, req Request) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.4,
		MaxTokens:   300,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.State.Message},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("chat completion returned empty content")
	}
	if req.State.Safety.SafetyDisclaimer != "" && !strings.Contains(reply, req.State.Safety.SafetyDisclaimer) {
		reply = reply + "\n\n" + req.State.Safety.SafetyDisclaimer
	}
	return reply, nil
}

func systemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Eres el asistente virtual de %s (%s). Responde en espanol, breve y cordial.\n",
		req.Business.BusinessName, req.Business.Vertical)
	if req.Business.Hours != "" {
		fmt.Fprintf(&b, "Horario: %s.\n", req.Business.Hours)
	}
	if req.Business.Address != "" {
		fmt.Fprintf(&b, "Direccion: %s.\n", req.Business.Address)
	}
	if len(req.Business.Services) > 0 {
		b.WriteString("Servicios: ")
		for i, svc := range req.Business.Services {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(svc.Name)
			if svc.Price != "" {
				fmt.Fprintf(&b, " (%s)", svc.Price)
			}
		}
		b.WriteString(".\n")
	}
	fmt.Fprintf(&b, "Etapa de la conversacion: %s. Intencion detectada: %s.\n",
		req.State.NextStage, req.State.Intent)
	if req.State.Control.ShouldEscalate {
		fmt.Fprintf(&b, "La conversacion sera atendida por una persona (%s). Informa al cliente y no prometas resolver tu mismo.\n",
			req.State.Control.EscalationReason)
	}
	if req.State.Safety.EmergencyMessage != "" {
		fmt.Fprintf(&b, "Indicacion de seguridad: %s\n", req.State.Safety.EmergencyMessage)
	}
	return b.String()
}
