// Package agentloop drives the conversation between the user, the model and
// the tool dispatcher.
//
// A Session holds one conversation. SendMessage appends the user turn and
// then alternates streamed model rounds with tool dispatch until the model
// answers without calling a tool or the round cap is reached. Each streamed
// round is folded into the timeline as it arrives, but the model turn is
// committed to history only once its stream has ended cleanly. Tool results
// for a round are committed together as a single user turn in the order the
// model issued the calls.
//
//	client, _ := unifiedllm.NewClientFromEnv(ctx)
//	s := agentloop.New(client, ts.Dispatcher)
//	changes, cancel := s.Subscribe(64)
//	defer cancel()
//	go render(changes)
//	_ = s.SendMessage(ctx, "list the files in the project")
package agentloop
