// Package agentx is the conversational boundary over the session store:
// it records the user's turn, asks the model for a reply over the bounded
// history, and records the assistant's turn.
package agentx

import (
	"context"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/convokit/convokit/pkg/errx"
	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
)

var errRegistry = errx.NewRegistry("AGENT")

var (
	ErrCodeCompletionFailed = errRegistry.Register(
		"COMPLETION_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Chat completion failed",
	)

	ErrCodeEmptyCompletion = errRegistry.Register(
		"EMPTY_COMPLETION",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Chat completion returned no choices",
	)
)

// Agent generates replies for a session using the chat-completions API
type Agent struct {
	client       openai.Client
	store        sessionx.Store
	model        string
	systemPrompt string
}

// AgentOption configures an Agent
type AgentOption func(*Agent)

// WithModel overrides the completion model
func WithModel(model string) AgentOption {
	return func(a *Agent) {
		a.model = model
	}
}

// WithSystemPrompt sets the system message prepended to every request
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// New creates an agent bound to a session store
func New(apiKey string, store sessionx.Store, opts ...AgentOption) *Agent {
	a := &Agent{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		store:  store,
		model:  "gpt-4o-mini",
	}
	for _, opt := range opts {
		opt(a)
	}

	logx.WithField("model", a.model).Info("Agent initialized")
	return a
}

// Reply records the user turn, generates a reply over the session
// history and records the assistant turn. A store failure on either
// append propagates: a turn the store did not confirm must not be
// presented as remembered.
func (a *Agent) Reply(ctx context.Context, sessionID, userInput string) (string, error) {
	if err := a.store.AddMessage(sessionID, sessionx.RoleUser, userInput); err != nil {
		logx.WithError(err).Error("Failed to record user turn")
		return "", err
	}

	history, err := a.store.GetConversationHistory(sessionID)
	if err != nil {
		logx.WithError(err).Error("Failed to load conversation history")
		return "", err
	}

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: a.buildMessages(history),
	})
	if err != nil {
		logx.WithFields(logx.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Error("Chat completion failed")
		return "", errRegistry.NewWithCause(ErrCodeCompletionFailed, err)
	}
	if len(completion.Choices) == 0 {
		return "", errRegistry.New(ErrCodeEmptyCompletion)
	}

	reply := completion.Choices[0].Message.Content

	if err := a.store.AddMessage(sessionID, sessionx.RoleAssistant, reply); err != nil {
		logx.WithError(err).Error("Failed to record assistant turn")
		return "", err
	}

	logx.WithFields(logx.Fields{
		"session_id":   sessionID,
		"history_len":  len(history),
		"reply_length": len(reply),
	}).Debug("Reply generated")
	return reply, nil
}

func (a *Agent) buildMessages(history []sessionx.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if a.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(a.systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case sessionx.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}
