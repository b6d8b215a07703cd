// Package stream turns the raw byte stream emitted by an in-container
// wrapper into an ordered sequence of discrete, typed messages. The wire
// format is a sequence of concatenated brace-delimited JSON objects,
// possibly interleaved with non-JSON noise (log lines, shell prompts) and
// arbitrarily fragmented across reads.
package stream

import "encoding/json"

// Kind classifies a parsed record by its effective type, unwrapping a
// "message" envelope's inner type when present (spec.md §6.2).
type Kind string

const (
	KindAssistant  Kind = "assistant"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
	KindResult     Kind = "result"
	KindError      Kind = "error"
	KindUnknown    Kind = "unknown"
)

// ResultSubtype distinguishes a successful terminal record from a failed one.
type ResultSubtype string

const (
	SubtypeSuccess ResultSubtype = "success"
	SubtypeError   ResultSubtype = "error"
)

// Usage holds token-usage counts from a terminal result record. Both
// snake_case and camelCase field spellings are accepted on input; Usage
// itself is the canonical (snake-cased-equivalent) in-memory shape.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one parsed, classified record from the output stream.
type Message struct {
	// Kind is the effective message type (message.type when present, else type).
	Kind Kind
	// Raw is the decoded JSON object, available to callers needing fields
	// beyond the ones lifted onto Message.
	Raw map[string]any

	// The following are populated only for Kind == KindResult.
	Subtype        ResultSubtype
	Result         *string
	Usage          Usage
	DurationMillis *int64
	AgentSessionID *string
}

// envelope mirrors the two shapes a record can take: a bare record with a
// top-level "type", or a record wrapping the real payload under "message".
type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type innerMessage struct {
	Type string `json:"type"`
}

type resultFields struct {
	Subtype        string  `json:"subtype"`
	Result         *string `json:"result"`
	SessionID      *string `json:"session_id"`
	DurationMillis *int64  `json:"duration_ms"`

	Usage            *usageVariants `json:"usage"`
	UsageCamel       *usageVariants `json:"tokenUsage"`
	DurationMsCamel  *int64         `json:"durationMs"`
	SessionIDCamel   *string        `json:"sessionId"`
}

type usageVariants struct {
	InputTokens  *int `json:"input_tokens"`
	OutputTokens *int `json:"output_tokens"`
	InputCamel   *int `json:"inputTokens"`
	OutputCamel  *int `json:"outputTokens"`
}

// Classify decodes a single standalone record, the same way the streaming
// Parser classifies each record it closes. Callers that already have one
// complete record in hand — the broker's stored terminal result, say —
// use this instead of feeding it through a Parser.
func Classify(raw []byte) (Message, error) {
	return classify(raw)
}

// classify decodes raw bytes into a Message. Decode failures are the
// caller's responsibility to discard silently (spec.md §4.1); classify
// itself just returns the error.
func classify(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, err
	}

	effectiveType := env.Type
	if len(env.Message) > 0 {
		var inner innerMessage
		if err := json.Unmarshal(env.Message, &inner); err == nil && inner.Type != "" {
			effectiveType = inner.Type
		}
	}

	msg := Message{
		Kind: kindFor(effectiveType),
		Raw:  fields,
	}

	if msg.Kind == KindResult {
		var rf resultFields
		if err := json.Unmarshal(raw, &rf); err != nil {
			return Message{}, err
		}
		populateResult(&msg, rf)
	}

	return msg, nil
}

func kindFor(t string) Kind {
	switch Kind(t) {
	case KindAssistant, KindToolUse, KindToolResult, KindSystem, KindResult, KindError:
		return Kind(t)
	default:
		return KindUnknown
	}
}

func populateResult(msg *Message, rf resultFields) {
	switch rf.Subtype {
	case string(SubtypeSuccess):
		msg.Subtype = SubtypeSuccess
	case string(SubtypeError):
		msg.Subtype = SubtypeError
	default:
		msg.Subtype = SubtypeError
	}

	msg.Result = rf.Result

	msg.Usage = mergeUsage(rf.Usage, rf.UsageCamel)

	if rf.DurationMillis != nil {
		msg.DurationMillis = rf.DurationMillis
	} else if rf.DurationMsCamel != nil {
		msg.DurationMillis = rf.DurationMsCamel
	}

	if rf.SessionID != nil {
		msg.AgentSessionID = rf.SessionID
	} else if rf.SessionIDCamel != nil {
		msg.AgentSessionID = rf.SessionIDCamel
	}
}

func mergeUsage(a, b *usageVariants) Usage {
	var u Usage
	pick := func(snake, camel *int) int {
		if snake != nil {
			return *snake
		}
		if camel != nil {
			return *camel
		}
		return 0
	}
	if a != nil {
		u.InputTokens = pick(a.InputTokens, a.InputCamel)
		u.OutputTokens = pick(a.OutputTokens, a.OutputCamel)
	}
	if b != nil {
		if u.InputTokens == 0 {
			u.InputTokens = pick(b.InputTokens, b.InputCamel)
		}
		if u.OutputTokens == 0 {
			u.OutputTokens = pick(b.OutputTokens, b.OutputCamel)
		}
	}
	return u
}
