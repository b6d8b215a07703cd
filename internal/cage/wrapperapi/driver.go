package wrapperapi

import "context"

// Driver runs one turn of agent work. Process receives the decoded input
// record and an emit callback for intermediate output records (spec.md
// §4.1's record stream); it returns the final terminal result record, raw
// and ready to publish to `{P}{S}:result`.
//
// A real wrapper's Driver drives an external agent process (spawn,
// forward stdin/stdout, translate its native output into the record
// stream); the one in this package instead is a fixed in-process
// responder used by integration tests, the same role
// bureau-agent-mock's mockDriver plays against lib/agent.Run.
type Driver interface {
	Process(ctx context.Context, input InputRecord, emit func(raw []byte)) (result []byte, err error)
}
