package agentloop

import (
	"context"
	"time"

	"github.com/martinemde/mercury/history"
	"github.com/martinemde/mercury/timeline"
	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/unifiedllm"
)

// run alternates model rounds and tool dispatch until the model stops
// calling tools or the round cap is reached.
func (s *Session) run(ctx context.Context) error {
	for round := 1; ; round++ {
		if round > s.cfg.MaxIterations {
			s.logger.Warn("max tool call iterations reached", "max", s.cfg.MaxIterations)
			s.timeline.Add(timeline.AgentText(MaxIterationsNotice))
			s.emitter.Emit(EventIterationLimit, map[string]interface{}{"max": s.cfg.MaxIterations})
			return nil
		}

		s.emitter.Emit(EventRoundStart, map[string]interface{}{"round": round})
		calls, err := s.streamTurn(ctx, round)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			s.logger.Debug("agent loop complete", "rounds", round)
			return nil
		}

		s.setState(StateDispatchingTools)
		s.dispatch(ctx, calls)
	}
}

// streamTurn sends the history snapshot, folds the streamed reply into the
// timeline and commits the model turn once the stream ends. It returns the
// tool calls the model issued.
func (s *Session) streamTurn(ctx context.Context, round int) ([]pendingCall, error) {
	s.setState(StateSending)
	req := unifiedllm.Request{
		Provider:       s.cfg.Provider,
		Model:          s.cfg.Model,
		System:         s.cfg.SystemInstruction,
		Turns:          s.history.Snapshot(),
		Tools:          s.tools,
		Temperature:    s.cfg.Temperature,
		ThinkingBudget: s.cfg.ThinkingBudget,
		MaxTokens:      s.cfg.MaxTokens,
	}
	start := time.Now()
	events, err := s.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	s.setState(StateStreaming)
	acc := newAccumulator(s.timeline)
	for ev := range events {
		switch ev.Type {
		case unifiedllm.StreamChunk:
			for _, f := range ev.Fragments {
				acc.add(f)
			}
		case unifiedllm.StreamError:
			err = ev.Error
		case unifiedllm.StreamFinish:
			if ev.Usage != nil {
				s.emitter.Emit(EventUsage, map[string]interface{}{
					"round":         round,
					"input_tokens":  ev.Usage.InputTokens,
					"output_tokens": ev.Usage.OutputTokens,
				})
			}
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for _, pc := range acc.calls {
			s.timeline.Update(pc.eventID, timeline.Finish(timeline.ToolError, tools.Fail(err.Error()).JSON()))
		}
		return nil, err
	}

	if len(acc.fragments) == 0 {
		// Committed anyway: user and model turns alternate.
		s.logger.Warn("model returned an empty turn", "round", round)
	}
	s.history.Append(history.ModelTurn(acc.fragments))
	s.logger.Debug("model turn committed",
		"round", round,
		"fragments", len(acc.fragments),
		"tool_calls", len(acc.calls),
		"elapsed", time.Since(start))
	return acc.calls, nil
}

// dispatch runs the pending calls one at a time in issue order and commits
// their results as a single user turn.
func (s *Session) dispatch(ctx context.Context, calls []pendingCall) {
	results := make([]history.Fragment, 0, len(calls))
	for _, pc := range calls {
		res := s.dispatcher.Execute(ctx, pc.call.Name, pc.call.Args)

		state := timeline.ToolSuccess
		if res.Failed() {
			state = timeline.ToolError
		}
		s.timeline.Update(pc.eventID, timeline.Finish(state, res.JSON()))
		if !res.Failed() {
			for _, ev := range planUpdates(pc.call, res) {
				s.timeline.Add(ev)
			}
		}
		results = append(results, history.ToolResultFragment(pc.call.ID, pc.call.Name, res.Payload()))
	}
	s.history.Append(history.ToolResults(results))
}
