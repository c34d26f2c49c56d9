// Package llmtest provides a scripted chat completer for tests: routed
// responses matched on prompt content, plus a sequential fallback for
// stages whose call order is fixed.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Entry is a single scripted response.
type Entry struct {
	Text string
	Err  error
}

type route struct {
	match string
	entry Entry
}

// ScriptedChat implements the gateway's ChatCompleter with deterministic,
// scripted responses.
type ScriptedChat struct {
	mu         sync.Mutex
	routes     []route
	sequential []Entry
	seqIndex   int
	captured   []openai.ChatCompletionRequest
}

// NewScriptedChat creates an empty script.
func NewScriptedChat() *ScriptedChat {
	return &ScriptedChat{}
}

// AddRoute registers a response returned whenever the request's combined
// message text contains match. Routes are matched in registration order
// and may fire any number of times.
func (s *ScriptedChat) AddRoute(match, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{match: match, entry: Entry{Text: text}})
}

// AddRouteError registers an error response for matching requests.
func (s *ScriptedChat) AddRouteError(match string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{match: match, entry: Entry{Err: err}})
}

// AddSequential appends a response consumed in order by non-routed calls.
func (s *ScriptedChat) AddSequential(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequential = append(s.sequential, Entry{Text: text})
}

// AddSequentialError appends an error consumed in order by non-routed calls.
func (s *ScriptedChat) AddSequentialError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequential = append(s.sequential, Entry{Err: err})
}

// Calls returns how many completions were requested.
func (s *ScriptedChat) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captured)
}

// Captured returns a copy of all captured requests.
func (s *ScriptedChat) Captured() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openai.ChatCompletionRequest, len(s.captured))
	copy(out, s.captured)
	return out
}

// CreateChatCompletion implements llm.ChatCompleter.
func (s *ScriptedChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, req)

	var combined strings.Builder
	for _, m := range req.Messages {
		combined.WriteString(m.Content)
		combined.WriteString("\n")
	}
	text := combined.String()

	for _, r := range s.routes {
		if strings.Contains(text, r.match) {
			return respond(r.entry)
		}
	}

	if s.seqIndex < len(s.sequential) {
		entry := s.sequential[s.seqIndex]
		s.seqIndex++
		return respond(entry)
	}

	return openai.ChatCompletionResponse{}, fmt.Errorf("scripted chat exhausted: no route matched and no sequential entries remain")
}

func respond(e Entry) (openai.ChatCompletionResponse, error) {
	if e.Err != nil {
		return openai.ChatCompletionResponse{}, e.Err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: e.Text}},
		},
	}, nil
}
