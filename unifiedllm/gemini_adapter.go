package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/martinemde/mercury/history"
)

// GeminiAdapter streams turns from the Gemini API.
type GeminiAdapter struct {
	client *genai.Client
}

type geminiConfig struct {
	baseURL string
}

// GeminiOption configures a GeminiAdapter.
type GeminiOption func(*geminiConfig)

// WithGeminiBaseURL points the adapter at a different endpoint. Empty keeps
// the default.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(c *geminiConfig) { c.baseURL = u }
}

// NewGeminiAdapter creates an adapter for the Gemini developer API.
func NewGeminiAdapter(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: API key is required"}}
	}
	var cfg geminiConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: create client", Cause: err}}
	}
	return &GeminiAdapter{client: client}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

// Stream opens a GenerateContentStream call. The first response is pulled
// before returning so that failures to connect surface as an error the
// client can retry.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	contents, err := geminiContents(req.Turns)
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{SDKError: SDKError{Message: err.Error(), Cause: err}, Provider: a.Name()}}
	}

	next, stop := iter.Pull2(a.client.Models.GenerateContentStream(ctx, req.Model, contents, geminiConfigFor(req)))
	first, err, ok := next()
	if ok && err != nil {
		stop()
		return nil, geminiError(err)
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer stop()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var (
			usage  *Usage
			reason = "stop"
			calls  bool
		)
		resp := first
		for ok {
			if err != nil {
				send(ctx, ch, Failure(geminiError(err)))
				return
			}
			frags, finish := geminiFragments(resp)
			if finish != "" {
				reason = finish
			}
			for _, f := range frags {
				if f.Kind == history.FragmentToolCall {
					calls = true
				}
			}
			if len(frags) > 0 && !send(ctx, ch, Chunk(frags...)) {
				return
			}
			if u := geminiUsage(resp); u != nil {
				usage = u
			}
			resp, err, ok = next()
		}
		if calls && reason == "stop" {
			reason = "tool_calls"
		}
		send(ctx, ch, Finish(reason, usage))
	}()
	return ch, nil
}

func geminiConfigFor(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(req.ThinkingBudget)),
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// geminiContents converts history to Gemini contents, one part per fragment.
// Continuation tokens are copied into ThoughtSignature unchanged.
func geminiContents(turns []history.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleUser
		if t.Role == history.RoleModel {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, f := range t.Fragments {
			part := &genai.Part{}
			switch f.Kind {
			case history.FragmentText:
				part.Text = f.Text
			case history.FragmentThought:
				part.Text = f.Text
				part.Thought = true
			case history.FragmentToolCall:
				var args map[string]any
				if len(f.Call.Args) > 0 {
					if err := json.Unmarshal(f.Call.Args, &args); err != nil {
						return nil, err
					}
				}
				part.FunctionCall = &genai.FunctionCall{ID: f.Call.ID, Name: f.Call.Name, Args: args}
			case history.FragmentToolResult:
				part.FunctionResponse = &genai.FunctionResponse{
					ID:       f.Result.ID,
					Name:     f.Result.Name,
					Response: responseMap(f.Result.Response),
				}
			}
			if !f.Token.Empty() {
				part.ThoughtSignature = []byte(f.Token.Clone())
			}
			content.Parts = append(content.Parts, part)
		}
		if len(content.Parts) == 0 {
			continue
		}
		contents = append(contents, content)
	}
	return contents, nil
}

// geminiFragments maps one streamed response to fragments in part order.
func geminiFragments(resp *genai.GenerateContentResponse) ([]history.Fragment, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ""
	}
	cand := resp.Candidates[0]
	finish := geminiFinishReason(cand.FinishReason)
	if cand.Content == nil {
		return nil, finish
	}
	var frags []history.Fragment
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		tok := history.Token(p.ThoughtSignature).Clone()
		switch {
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			if p.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			frags = append(frags, history.ToolCallFragment(p.FunctionCall.ID, p.FunctionCall.Name, args, tok))
		case p.Thought:
			frags = append(frags, history.ThoughtFragment(p.Text, tok))
		case p.Text != "" || !tok.Empty():
			f := history.TextFragment(p.Text)
			f.Token = tok
			frags = append(frags, f)
		}
	}
	return frags, finish
}

func geminiFinishReason(r genai.FinishReason) string {
	switch strings.ToUpper(string(r)) {
	case "":
		return ""
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return "other"
	}
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	m := resp.UsageMetadata
	return &Usage{
		InputTokens:     int(m.PromptTokenCount),
		OutputTokens:    int(m.CandidatesTokenCount),
		TotalTokens:     int(m.TotalTokenCount),
		ReasoningTokens: int(m.ThoughtsTokenCount),
	}
}

// geminiSchema converts a JSON-schema map to a genai.Schema.
func geminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = geminiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	s.Required = stringList(m["required"])
	s.Enum = stringList(m["enum"])
	return s
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// responseMap shapes a tool payload as the JSON object Gemini requires.
func responseMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"result": err.Error()}
	}
	var m map[string]any
	if json.Unmarshal(b, &m) == nil && m != nil {
		return m
	}
	var raw any
	_ = json.Unmarshal(b, &raw)
	return map[string]any{"result": raw}
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.Code, apiErr.Message, "gemini", err, nil)
	}
	return classify("gemini", err)
}
