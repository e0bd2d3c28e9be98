// Package ai turns an inbound message and the sender's profile into a
// supportive reply using an OpenAI-compatible chat completion API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/model"
)

const (
	defaultModel       = openai.GPT3Dot5Turbo
	defaultMaxTokens   = 500
	defaultTemperature = 0.8
	defaultTimeout     = 60 * time.Second
)

var errEmptyCompletion = errors.New("completion returned no text")

// ReplyRequest is everything needed to generate one reply.
type ReplyRequest struct {
	UserName string
	Context  model.UserContext

	// History is the recent conversation, oldest first, with completion
	// role tags.
	History []model.ContextMessage

	// Message is the new inbound text; it becomes the final user turn.
	Message string
}

// Reply is the outcome of GenerateReply. Text is always usable; Fallback
// reports that it is the canned message and Err holds the cause.
type Reply struct {
	Text     string
	Fallback bool
	Err      error
}

// Responder generates replies through the completion service.
type Responder struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	log         *zap.Logger
}

// New creates a Responder from the AI configuration. Zero values fall back
// to the defaults used by the bot.
func New(cfg model.AIConfig, log *zap.Logger) *Responder {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Responder{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       modelName,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		log:         log.With(zap.String("component", "ai")),
	}
}

// GenerateReply asks the completion service for a reply. It never fails:
// any error, or an empty completion, yields the fallback text.
func (r *Responder) GenerateReply(ctx context.Context, req ReplyRequest) Reply {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.complete(ctx, req)
	if err != nil {
		r.log.Warn("completion failed, using fallback",
			zap.String("user", req.UserName),
			zap.Error(err),
		)
		return Reply{
			Text:     FallbackText(req.UserName),
			Fallback: true,
			Err:      err,
		}
	}

	return Reply{Text: text}
}

// complete makes a single chat completion request.
func (r *Responder) complete(ctx context.Context, req ReplyRequest) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    buildMessages(req),
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("calling completion API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyCompletion
	}

	r.log.Debug("completion received",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return text, nil
}

// buildMessages lays out the system prompt, the prior turns and the new
// message in that order.
func buildMessages(req ReplyRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildSystemPrompt(req.UserName, req.Context),
	})

	for _, msg := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	return messages
}
