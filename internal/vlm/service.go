// Package vlm wraps the vision-language model behind a provider-agnostic
// invocation interface. The pipeline hands it fully rehydrated messages and
// has no visibility into transport details.
package vlm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"docpipe/internal/config"
	"docpipe/internal/models"
)

// Invoker is the model invocation collaborator: single-shot or streamed.
type Invoker interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
	Stream(ctx context.Context, messages []models.Message, callback func(chunk string) error) (string, error)
}

type Service struct {
	chatModel model.BaseChatModel
}

func NewService(ctx context.Context, cfg config.VLMConfig) (*Service, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch cfg.Provider {
	case "openai", "":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return &Service{chatModel: chatModel}, nil
}

func (s *Service) Generate(ctx context.Context, messages []models.Message) (string, error) {
	resp, err := s.chatModel.Generate(ctx, convertMessages(messages))
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return resp.Content, nil
}

// Stream drains the model token stream, forwarding each accumulated chunk
// to callback, and returns the full content.
func (s *Service) Stream(ctx context.Context, messages []models.Message, callback func(chunk string) error) (string, error) {
	reader, err := s.chatModel.Stream(ctx, convertMessages(messages))
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer reader.Close()

	var full string
	for {
		chunk, err := reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return full, fmt.Errorf("read completion stream: %w", err)
		}
		if chunk.Content == "" {
			continue
		}
		full += chunk.Content
		if callback != nil {
			if err := callback(chunk.Content); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}

func convertMessages(history []models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}

		converted := &schema.Message{Role: role}
		if msg.Content.IsStructured() {
			converted.MultiContent = convertParts(msg.Content.Parts)
		} else {
			converted.Content = msg.Content.Text
		}
		out = append(out, converted)
	}
	return out
}

func convertParts(parts []models.ContentPart) []schema.ChatMessagePart {
	out := make([]schema.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case models.PartTypeText:
			out = append(out, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case models.PartTypeImageURL:
			if p.ImageURL == nil {
				continue
			}
			out = append(out, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: p.ImageURL.URL,
				},
			})
		}
	}
	return out
}

var _ Invoker = (*Service)(nil)
