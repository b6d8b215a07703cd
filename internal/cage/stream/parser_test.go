package stream_test

import (
	"encoding/json"
	"testing"

	"github.com/grantharris33/clawdbot/internal/cage/stream"
)

func collect(t *testing.T) (*stream.Parser, *[]stream.Message) {
	t.Helper()
	var got []stream.Message
	p := stream.New(func(m stream.Message) { got = append(got, m) })
	return p, &got
}

func TestParser_SingleRecordWholeChunk(t *testing.T) {
	p, got := collect(t)
	p.Feed([]byte(`{"type":"assistant","content":"hi"}`))
	if len(*got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*got))
	}
	if (*got)[0].Kind != stream.KindAssistant {
		t.Fatalf("expected assistant kind, got %s", (*got)[0].Kind)
	}
	if p.HasPending() {
		t.Fatal("expected no pending record")
	}
}

func TestParser_FeedSplitEquivalence(t *testing.T) {
	input := []byte(`noise {"type":"system","level":"info"}more-noise{"type":"result","subtype":"success","result":"ok","usage":{"input_tokens":3,"output_tokens":1},"duration_ms":42}tail`)

	for split := 0; split <= len(input); split++ {
		p, got := collect(t)
		p.Feed(input[:split])
		p.Feed(input[split:])

		if len(*got) != 2 {
			t.Fatalf("split=%d: expected 2 messages, got %d", split, len(*got))
		}
		if (*got)[0].Kind != stream.KindSystem {
			t.Fatalf("split=%d: expected system kind first, got %s", split, (*got)[0].Kind)
		}
		if (*got)[1].Kind != stream.KindResult {
			t.Fatalf("split=%d: expected result kind second, got %s", split, (*got)[1].Kind)
		}
		if (*got)[1].Usage.InputTokens != 3 || (*got)[1].Usage.OutputTokens != 1 {
			t.Fatalf("split=%d: unexpected usage %+v", split, (*got)[1].Usage)
		}
	}
}

func TestParser_ByteAtATimeFragmentation(t *testing.T) {
	record := `{"type":"assistant","content":"hello, \"world\" {nested}"}`
	input := "x" + record // one garbage byte prefix, matching scenario 4

	p, got := collect(t)
	for i := 0; i < len(input); i++ {
		p.Feed([]byte{input[i]})
	}

	if len(*got) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(*got))
	}
	if p.HasPending() {
		t.Fatal("expected HasPending false after full record consumed")
	}

	var want map[string]any
	if err := json.Unmarshal([]byte(record), &want); err != nil {
		t.Fatal(err)
	}
	if (*got)[0].Raw["content"] != want["content"] {
		t.Fatalf("content mismatch: got %v want %v", (*got)[0].Raw["content"], want["content"])
	}
}

func TestParser_DecodeFailureDiscardedSilently(t *testing.T) {
	p, got := collect(t)
	// Balanced braces but invalid JSON inside (trailing comma), followed by a valid record.
	p.Feed([]byte(`{"type":"assistant",}{"type":"system","level":"info"}`))
	if len(*got) != 1 {
		t.Fatalf("expected the valid record only, got %d messages", len(*got))
	}
	if (*got)[0].Kind != stream.KindSystem {
		t.Fatalf("expected system kind, got %s", (*got)[0].Kind)
	}
}

func TestParser_UnterminatedRecordLeavesBufferPending(t *testing.T) {
	p, got := collect(t)
	p.Feed([]byte(`{"type":"assistant","content":"incomplete`))
	if len(*got) != 0 {
		t.Fatalf("expected no messages yet, got %d", len(*got))
	}
	if !p.HasPending() {
		t.Fatal("expected HasPending true")
	}
	p.Reset()
	if p.HasPending() {
		t.Fatal("expected HasPending false after Reset")
	}
}

func TestParser_MessageEnvelopeInnerType(t *testing.T) {
	p, got := collect(t)
	p.Feed([]byte(`{"type":"wrapper","message":{"type":"tool_use","name":"bash"}}`))
	if len(*got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*got))
	}
	if (*got)[0].Kind != stream.KindToolUse {
		t.Fatalf("expected tool_use kind from inner envelope, got %s", (*got)[0].Kind)
	}
}

func TestParser_CamelCaseUsageVariant(t *testing.T) {
	p, got := collect(t)
	p.Feed([]byte(`{"type":"result","subtype":"success","tokenUsage":{"inputTokens":7,"outputTokens":2},"durationMs":99,"sessionId":"sess-1"}`))
	if len(*got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*got))
	}
	m := (*got)[0]
	if m.Usage.InputTokens != 7 || m.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage %+v", m.Usage)
	}
	if m.DurationMillis == nil || *m.DurationMillis != 99 {
		t.Fatalf("unexpected duration %v", m.DurationMillis)
	}
	if m.AgentSessionID == nil || *m.AgentSessionID != "sess-1" {
		t.Fatalf("unexpected session id %v", m.AgentSessionID)
	}
}

func TestParser_NPlusOneRecordsArbitraryChunking(t *testing.T) {
	records := []string{
		`{"type":"system","level":"info"}`,
		`{"type":"assistant","content":"a"}`,
		`{"type":"tool_use","name":"x"}`,
		`{"type":"tool_result","output":"y"}`,
		`{"type":"result","subtype":"error"}`,
	}
	full := "garbage-prefix"
	for _, r := range records {
		full += r + "inter-record-noise"
	}

	for chunkSize := 1; chunkSize <= len(full); chunkSize += 7 {
		p, got := collect(t)
		b := []byte(full)
		for i := 0; i < len(b); i += chunkSize {
			end := i + chunkSize
			if end > len(b) {
				end = len(b)
			}
			p.Feed(b[i:end])
		}
		if len(*got) != len(records) {
			t.Fatalf("chunkSize=%d: expected %d records, got %d", chunkSize, len(records), len(*got))
		}
	}
}
