// Package unifiedllm streams model turns from Gemini, Anthropic and the
// providers gollm supports behind one interface.
//
// Requests carry the conversation as history turns and the tool catalogue
// as JSON-schema definitions. Each adapter translates them to its native
// wire format and streams the reply back as history fragments in arrival
// order. Provider continuation tokens (Gemini thought signatures, Anthropic
// thinking signatures) ride on the fragments and are replayed byte for byte
// on the next request.
//
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("gemini", adapter))
//	events, err := client.Stream(ctx, unifiedllm.Request{
//	    System: prompt,
//	    Turns:  hist.Snapshot(),
//	    Tools:  defs,
//	})
//	for ev := range events {
//	    switch ev.Type {
//	    case unifiedllm.StreamChunk:
//	        // ev.Fragments
//	    case unifiedllm.StreamError:
//	        // ev.Error
//	    }
//	}
package unifiedllm
