package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/martinemde/mercury/history"
)

// GollmAdapter serves providers without a native adapter through gollm.
// gollm flattens the conversation into one prompt and has no continuation
// tokens, so turns carry text only. Tool calls are recovered from the
// generated text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model     string
	maxTokens int
	extraOpts []gollm.ConfigOption
}

// WithModel sets the model used when a request names none.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.model = model }
}

// WithGollmOptions passes extra options to gollm.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter creates an adapter for provider. An empty apiKey lets
// gollm read the provider's environment variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{maxTokens: 4096}
	for _, opt := range opts {
		opt(cfg)
	}
	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf("gollm: create %s client", provider), Cause: err}}
	}
	return &GollmAdapter{provider: provider, llm: llm}, nil
}

func (a *GollmAdapter) Name() string { return a.provider }

// Stream streams text when no tools are offered. With tools the reply is
// generated in one call so embedded tool calls can be parsed as a whole.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := gollmPrompt(req)
	a.applyRequestOptions(req)

	if len(req.Tools) > 0 || !a.llm.SupportsStreaming() {
		text, err := a.llm.Generate(ctx, prompt)
		if err != nil {
			return nil, classify(a.provider, err)
		}
		ch := make(chan StreamEvent, 3)
		frags := gollmFragments(text)
		reason := "stop"
		for _, f := range frags {
			if f.Kind == history.FragmentToolCall {
				reason = "tool_calls"
			}
		}
		ch <- StreamEvent{Type: StreamStart}
		if len(frags) > 0 {
			ch <- Chunk(frags...)
		}
		ch <- Finish(reason, estimateUsage(req, text))
		close(ch)
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, classify(a.provider, err)
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}
		var full strings.Builder
		for {
			tok, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(ctx, ch, Failure(classify(a.provider, err)))
				return
			}
			if tok == nil || tok.Text == "" {
				continue
			}
			full.WriteString(tok.Text)
			if !send(ctx, ch, Chunk(history.TextFragment(tok.Text))) {
				return
			}
		}
		send(ctx, ch, Finish("stop", estimateUsage(req, full.String())))
	}()
	return ch, nil
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		a.llm.SetOption("max_tokens", req.MaxTokens)
	}
}

// gollmPrompt flattens the conversation into a single prompt.
func gollmPrompt(req Request) *gollm.Prompt {
	var parts []string
	for _, t := range req.Turns {
		for _, f := range t.Fragments {
			switch f.Kind {
			case history.FragmentText:
				if f.Text == "" {
					continue
				}
				if t.Role == history.RoleModel {
					parts = append(parts, "[Assistant]: "+f.Text)
				} else {
					parts = append(parts, f.Text)
				}
			case history.FragmentToolCall:
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s", f.Call.Name, f.Call.Args))
			case history.FragmentToolResult:
				b, _ := json.Marshal(f.Result.Response)
				parts = append(parts, fmt.Sprintf("[Tool Result %s]: %s", f.Result.Name, b))
			}
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = "Hello"
	}

	var opts []gollm.PromptOption
	if req.System != "" {
		opts = append(opts, gollm.WithSystemPrompt(req.System, gollm.CacheTypeEphemeral))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools), gollm.WithToolChoice("auto"))
	}
	return gollm.NewPrompt(text, opts...)
}

var functionCallTag = regexp.MustCompile(`(?s)<function_call>(.*?)</function_call>`)

type rawCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// gollmFragments splits generated text into a text fragment and the tool
// calls embedded in it, either as <function_call> tags or a trailing JSON
// array of {"name","arguments"} objects.
func gollmFragments(text string) []history.Fragment {
	var calls []rawCall
	rest := text

	for _, m := range functionCallTag.FindAllStringSubmatch(text, -1) {
		var rc rawCall
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), &rc) == nil && rc.Name != "" {
			calls = append(calls, rc)
		}
	}
	if len(calls) > 0 {
		rest = functionCallTag.ReplaceAllString(text, "")
	} else if idx := strings.Index(text, `[{"name"`); idx != -1 {
		var arr []rawCall
		if json.Unmarshal([]byte(strings.TrimSpace(text[idx:])), &arr) == nil {
			calls = arr
			rest = text[:idx]
		}
	}

	var frags []history.Fragment
	if s := strings.TrimSpace(rest); s != "" {
		frags = append(frags, history.TextFragment(s))
	}
	for _, c := range calls {
		args := c.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage("{}")
		}
		// Some providers encode arguments as a JSON string.
		var encoded string
		if json.Unmarshal(args, &encoded) == nil {
			args = json.RawMessage(encoded)
		}
		frags = append(frags, history.ToolCallFragment("call_"+uuid.NewString()[:8], c.Name, args, nil))
	}
	return frags
}

// estimateUsage approximates token counts at four characters per token
// since gollm does not report usage.
func estimateUsage(req Request, output string) *Usage {
	in := len(req.System)
	for _, t := range req.Turns {
		for _, f := range t.Fragments {
			in += len(f.Text)
		}
	}
	u := &Usage{InputTokens: in / 4, OutputTokens: len(output) / 4}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}
