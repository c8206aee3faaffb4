package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/martinemde/mercury/history"
)

const (
	anthropicDefaultMaxTokens = 8192
	anthropicMinThinking      = 1024
)

// AnthropicAdapter streams turns from the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
}

type anthropicConfig struct {
	baseURL string
}

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*anthropicConfig)

// WithAnthropicBaseURL points the adapter at a different endpoint. Empty
// keeps the default.
func WithAnthropicBaseURL(u string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = u }
}

// NewAnthropicAdapter creates an adapter for the Messages API.
func NewAnthropicAdapter(apiKey string, opts ...AnthropicOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "anthropic: API key is required"}}
	}
	var cfg anthropicConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(reqOpts...)}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Stream opens a streaming Messages call. Thinking and text deltas are
// emitted as they arrive. A thinking block's signature arrives as an extra
// empty thought fragment carrying the token when the block closes. Tool use
// blocks are emitted whole once their input JSON is complete.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := anthropicParams(req)
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{SDKError: SDKError{Message: err.Error(), Cause: err}, Provider: a.Name()}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			err = errors.New("stream closed before any event")
		}
		return nil, anthropicError(err)
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var (
			usage  Usage
			reason = "stop"
			blocks = map[int64]*anthropicBlock{}
		)
		for {
			frags := anthropicEvent(stream.Current(), blocks, &usage, &reason)
			if len(frags) > 0 && !send(ctx, ch, Chunk(frags...)) {
				return
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, Failure(anthropicError(err)))
			return
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		send(ctx, ch, Finish(reason, &usage))
	}()
	return ch, nil
}

// anthropicBlock tracks one open content block.
type anthropicBlock struct {
	kind      string
	id        string
	name      string
	input     []byte
	signature string
}

// anthropicEvent folds one stream event into the open blocks and returns
// the fragments it completes.
func anthropicEvent(ev anthropic.MessageStreamEventUnion, blocks map[int64]*anthropicBlock, usage *Usage, reason *string) []history.Fragment {
	switch v := ev.AsAny().(type) {
	case anthropic.MessageStartEvent:
		usage.InputTokens = int(v.Message.Usage.InputTokens)
		usage.OutputTokens = int(v.Message.Usage.OutputTokens)
	case anthropic.ContentBlockStartEvent:
		b := &anthropicBlock{kind: v.ContentBlock.Type, id: v.ContentBlock.ID, name: v.ContentBlock.Name}
		blocks[v.Index] = b
		switch b.kind {
		case "text":
			if v.ContentBlock.Text != "" {
				return []history.Fragment{history.TextFragment(v.ContentBlock.Text)}
			}
		case "thinking":
			b.signature = v.ContentBlock.Signature
			if v.ContentBlock.Thinking != "" {
				return []history.Fragment{history.ThoughtFragment(v.ContentBlock.Thinking, nil)}
			}
		}
	case anthropic.ContentBlockDeltaEvent:
		b := blocks[v.Index]
		switch d := v.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				return []history.Fragment{history.TextFragment(d.Text)}
			}
		case anthropic.ThinkingDelta:
			if d.Thinking != "" {
				return []history.Fragment{history.ThoughtFragment(d.Thinking, nil)}
			}
		case anthropic.SignatureDelta:
			if b != nil {
				b.signature += d.Signature
			}
		case anthropic.InputJSONDelta:
			if b != nil {
				b.input = append(b.input, d.PartialJSON...)
			}
		}
	case anthropic.ContentBlockStopEvent:
		b := blocks[v.Index]
		delete(blocks, v.Index)
		if b == nil {
			return nil
		}
		switch b.kind {
		case "thinking":
			if b.signature != "" {
				return []history.Fragment{history.ThoughtFragment("", history.Token(b.signature))}
			}
		case "tool_use":
			args := b.input
			if len(args) == 0 {
				args = []byte("{}")
			}
			return []history.Fragment{history.ToolCallFragment(b.id, b.name, json.RawMessage(args), nil)}
		}
	case anthropic.MessageDeltaEvent:
		if v.Usage.OutputTokens > 0 {
			usage.OutputTokens = int(v.Usage.OutputTokens)
		}
		switch v.Delta.StopReason {
		case "":
		case "end_turn", "stop_sequence":
			*reason = "stop"
		case "max_tokens":
			*reason = "length"
		case "tool_use":
			*reason = "tool_calls"
		case "refusal":
			*reason = "content_filter"
		default:
			*reason = "other"
		}
	}
	return nil
}

func anthropicParams(req Request) (anthropic.MessageNewParams, error) {
	msgs, err := anthropicMessages(req.Turns)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	// Extended thinking rejects any temperature other than the default.
	budget := int64(req.ThinkingBudget)
	switch {
	case budget >= anthropicMinThinking:
		if budget >= params.MaxTokens {
			params.MaxTokens = budget + anthropicDefaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	case req.Temperature != nil:
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		schema.Required = stringList(t.Parameters["required"])
		tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
		tool.OfTool.Description = anthropic.String(t.Description)
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// anthropicMessages converts history to Messages API turns. Turns with no
// blocks are skipped and neighbours of the same role merged. Runs of
// consecutive thought fragments become one thinking block signed by the
// run's token; runs of text become one text block. Unsigned thinking is
// dropped since the API rejects it.
func anthropicMessages(turns []history.Turn) ([]anthropic.MessageParam, error) {
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		var (
			blocks   []anthropic.ContentBlockParamUnion
			text     string
			thinking string
			sig      history.Token
			run      history.FragmentKind
		)
		flush := func() {
			switch run {
			case history.FragmentText:
				if text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(text))
				}
			case history.FragmentThought:
				if !sig.Empty() {
					blocks = append(blocks, anthropic.NewThinkingBlock(string(sig), thinking))
				}
			}
			text, thinking, sig, run = "", "", nil, ""
		}

		for _, f := range t.Fragments {
			if f.Kind != run {
				flush()
			}
			switch f.Kind {
			case history.FragmentText:
				run = f.Kind
				text += f.Text
			case history.FragmentThought:
				run = f.Kind
				thinking += f.Text
				if !f.Token.Empty() {
					sig = f.Token
				}
			case history.FragmentToolCall:
				args := json.RawMessage(f.Call.Args)
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(f.Call.ID, args, f.Call.Name))
			case history.FragmentToolResult:
				content, isErr, err := toolResultContent(f.Result.Response)
				if err != nil {
					return nil, fmt.Errorf("tool result %s: %w", f.Result.Name, err)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(f.Result.ID, content, isErr))
			}
		}
		flush()
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if t.Role == history.RoleModel {
			role = anthropic.MessageParamRoleAssistant
		}
		// A skipped empty turn leaves two turns of one role side by side.
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			continue
		}
		msgs = append(msgs, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return msgs, nil
}

func toolResultContent(v any) (string, bool, error) {
	isErr := false
	if f, ok := v.(interface{ Failed() bool }); ok {
		isErr = f.Failed()
	}
	if s, ok := v.(string); ok {
		return s, isErr, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false, err
	}
	return string(b), isErr, nil
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), "anthropic", err, nil)
	}
	return classify("anthropic", err)
}
