package broker_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
)

func newTestClient(t *testing.T) *broker.Client {
	t.Helper()
	addr := os.Getenv("CAGE_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("CAGE_TEST_REDIS_URL not set — skipping live broker integration test")
	}
	c := broker.New(broker.Options{Addr: addr, Prefix: "cagetest:"})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendInputThenPopInput(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-a"

	require.NoError(t, c.SendInput(ctx, session, []byte(`{"prompt":"hi"}`)))

	got, err := c.PopInput(ctx, session, time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"prompt":"hi"}`, string(got))
}

func TestUpdateStateThenGetState(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-b"

	require.NoError(t, c.UpdateState(ctx, session, broker.State{
		Status:        "running",
		LastHeartbeat: 1234,
		TurnCount:     2,
	}))

	st, ok, err := c.GetState(ctx, session)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "running", st.Status)
	require.Equal(t, 2, st.TurnCount)
}

func TestGetState_AbsentSessionIsNotOK(t *testing.T) {
	c := newTestClient(t)
	_, ok, err := c.GetState(context.Background(), "never-existed")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishOutputBuffersForLateSubscriber(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-c"
	require.NoError(t, c.ClearSession(ctx, session))

	require.NoError(t, c.PublishOutput(ctx, session, []byte("first")))
	require.NoError(t, c.PublishOutput(ctx, session, []byte("second")))

	buffered, err := c.GetBufferedOutput(ctx, session)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("first"), []byte("second")}, buffered)
}

func TestSubscribeOutputReceivesLivePublication(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-d"

	received := make(chan []byte, 1)
	unsub := c.SubscribeOutput(ctx, session, func(payload []byte) {
		received <- payload
	})
	defer unsub()

	time.Sleep(100 * time.Millisecond) // allow subscription to establish
	require.NoError(t, c.PublishOutput(ctx, session, []byte("hello")))

	select {
	case payload := <-received:
		require.Equal(t, "hello", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published output")
	}
}

func TestSendInterruptEnqueuesForAtLeastOnceDelivery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-e"
	require.NoError(t, c.ClearSession(ctx, session))

	require.NoError(t, c.SendInterrupt(ctx, session, []byte(`{"kind":"cancel"}`)))

	got, err := c.PopInterrupt(ctx, session)
	require.NoError(t, err)
	require.Equal(t, `{"kind":"cancel"}`, string(got))
}

func TestWaitForResult_ReturnsImmediatelyWhenAlreadySet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-f"

	require.NoError(t, c.SetResult(ctx, session, []byte(`{"status":"success"}`)))

	got, err := c.WaitForResult(ctx, session, time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"status":"success"}`, string(got))
}

func TestWaitForResult_TimesOutWhenNeverSet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-never-completes"
	require.NoError(t, c.ClearSession(ctx, session))

	_, err := c.WaitForResult(ctx, session, 700*time.Millisecond)
	require.ErrorIs(t, err, broker.ErrTimeout)
}

func TestPing_MeasuresLatency(t *testing.T) {
	c := newTestClient(t)
	latency, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestClearSessionRemovesAllKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	session := "session-g"

	require.NoError(t, c.SendInput(ctx, session, []byte("x")))
	require.NoError(t, c.UpdateState(ctx, session, broker.State{Status: "idle"}))
	require.NoError(t, c.ClearSession(ctx, session))

	_, ok, err := c.GetState(ctx, session)
	require.NoError(t, err)
	require.False(t, ok)
}
