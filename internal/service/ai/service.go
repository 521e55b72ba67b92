// Package ai answers documentation questions with an eino chat chain.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/bytebrain/docchat/internal/config"
	"github.com/bytebrain/docchat/internal/observability/logging"
)

// ErrStreamingDisabled is returned by StreamResponse when ARK_STREAM is off.
var ErrStreamingDisabled = errors.New("streaming disabled in configuration")

// Service encapsulates the question answering chain.
type Service struct {
	cfg    config.AIConfig
	prompt *PromptBuilder
	chain  compose.Runnable[map[string]any, *schema.Message]
	log    zerolog.Logger
}

// NewService creates the Ark chat model from cfg and builds the chain on top of it.
func NewService(ctx context.Context, cfg config.AIConfig, prompts *PromptBuilder) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, prompts)
}

// NewServiceWithModel builds the chain on top of an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, prompts *PromptBuilder) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		cfg:    cfg,
		prompt: prompts,
		chain:  runnable,
		log:    logging.WithComponent("ai"),
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateResponse runs the chain and returns the whole answer.
func (s *Service) GenerateResponse(ctx context.Context, question string, history []string) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(question, history))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.log.Debug().Int("historyLen", len(history)).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}

// StreamResponse streams the answer, calling emit with every non-empty chunk
// in order. It returns the full answer.
func (s *Service) StreamResponse(ctx context.Context, question string, history []string, emit func(token string) error) (string, error) {
	if !s.StreamingEnabled() {
		return "", ErrStreamingDisabled
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(question, history))
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer.String(), fmt.Errorf("failed to receive AI chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		answer.WriteString(chunk.Content)
		if err := emit(chunk.Content); err != nil {
			return answer.String(), err
		}
	}
	return answer.String(), nil
}

// Answer streams when streaming is enabled and falls back to a single token
// otherwise.
func (s *Service) Answer(ctx context.Context, question string, history []string, emit func(token string) error) error {
	if s.StreamingEnabled() {
		_, err := s.StreamResponse(ctx, question, history, emit)
		return err
	}
	answer, err := s.GenerateResponse(ctx, question, history)
	if err != nil {
		return err
	}
	return emit(answer)
}

func (s *Service) buildChainInput(question string, history []string) map[string]any {
	return map[string]any{
		"system":  s.prompt.SystemPrompt(),
		"history": s.buildHistoryMessages(history),
		"query":   question,
	}
}

// buildHistoryMessages keeps the last HistoryLimit entries. History alternates
// between questions and answers, starting with a question.
func (s *Service) buildHistoryMessages(history []string) []*schema.Message {
	if len(history) == 0 || s.cfg.HistoryLimit == 0 {
		return nil
	}

	startIdx := 0
	if len(history) > s.cfg.HistoryLimit {
		startIdx = len(history) - s.cfg.HistoryLimit
	}

	messages := make([]*schema.Message, 0, len(history)-startIdx)
	for i := startIdx; i < len(history); i++ {
		if i%2 == 0 {
			messages = append(messages, schema.UserMessage(history[i]))
		} else {
			messages = append(messages, schema.AssistantMessage(history[i], nil))
		}
	}
	return messages
}
