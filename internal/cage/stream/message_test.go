package stream_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantharris33/clawdbot/internal/cage/stream"
)

func TestClassify_DecodesStandaloneResultRecord(t *testing.T) {
	msg, err := stream.Classify([]byte(`{"type":"result","subtype":"success","result":"done","usage":{"input_tokens":2,"output_tokens":3}}`))
	require.NoError(t, err)
	require.Equal(t, stream.KindResult, msg.Kind)
	require.Equal(t, stream.SubtypeSuccess, msg.Subtype)
	require.NotNil(t, msg.Result)
	require.Equal(t, "done", *msg.Result)
	require.Equal(t, 2, msg.Usage.InputTokens)
	require.Equal(t, 3, msg.Usage.OutputTokens)
}

func TestClassify_PropagatesDecodeErrors(t *testing.T) {
	_, err := stream.Classify([]byte(`{not json`))
	require.Error(t, err)
}
