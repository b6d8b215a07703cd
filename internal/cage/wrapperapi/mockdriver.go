package wrapperapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MockDriver is a reference Driver that emits a fixed sequence of events
// and a canned success result, the same shape bureau-agent-mock's
// mockDriver fakes a real agent process with. It spawns no external
// process and needs no API key, so it can run inside an ordinary
// integration-test container image.
type MockDriver struct {
	// TurnDelay is the pause between emitted events, simulating an agent
	// that streams its output gradually. Zero means no delay.
	TurnDelay time.Duration
}

func (d MockDriver) Process(ctx context.Context, input InputRecord, emit func(raw []byte)) ([]byte, error) {
	events := []map[string]any{
		{"type": "system", "subtype": "init", "message": "mock agent starting"},
		{"type": "assistant", "content": fmt.Sprintf("acknowledged: %s", input.Prompt)},
	}
	for _, event := range events {
		raw, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		emit(raw)
		if d.TurnDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.TurnDelay):
			}
		}
	}

	result := map[string]any{
		"type":    "result",
		"subtype": "success",
		"result":  fmt.Sprintf("acknowledged: %s", input.Prompt),
		"usage": map[string]int{
			"input_tokens":  len(input.Prompt),
			"output_tokens": len(events),
		},
		"duration_ms": int64(d.TurnDelay/time.Millisecond) * int64(len(events)),
	}
	return json.Marshal(result)
}
