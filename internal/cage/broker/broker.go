// Package broker implements the session-scoped queue/pub-sub/state contract
// (spec.md §4.4) over Redis.
package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grantharris33/clawdbot/common/retry"
)

const (
	outputBufferLimit = 1000
	outputBufferTTL   = time.Hour
	resultTTL         = time.Hour
	stateTTL          = 60 * time.Second
)

// DefaultKeyPrefix is the `{P}` namespace every key carries when the host
// and its wrapper processes haven't been configured with a different one
// (spec.md §4.4).
const DefaultKeyPrefix = "cage:"

// Terminal state values wrapperapi.StateStopped/StateFailed carry.
// Duplicated here (rather than imported) since wrapperapi imports broker.
const (
	stateStopped = "stopped"
	stateFailed  = "failed"
)

// State is the container→host status record kept at `{P}{S}:state`.
type State struct {
	Status         string `json:"status"`
	LastHeartbeat  int64  `json:"last_heartbeat_ms"`
	AgentSessionID string `json:"agent_session_id,omitempty"`
	TurnCount      int    `json:"turn_count"`
}

// Client is a broker connection pair: one for commands, one dedicated to
// subscriptions, per spec.md §4.4.
type Client struct {
	prefix  string
	cmd     *redis.Client
	sub     *redis.Client
	retryCfg retry.Config
}

// Options configures a new Client.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key (the `{P}` in spec.md §4.4's key table).
	Prefix string
}

// OptionsFromURL parses a `redis://[:password@]host:port[/db]` URL (the
// wire format spec.md §6.1's REDIS_URL carries) into Options, leaving
// Prefix for the caller to set.
func OptionsFromURL(rawURL string) (Options, error) {
	parsed, err := redis.ParseURL(rawURL)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Addr:     parsed.Addr,
		Password: parsed.Password,
		DB:       parsed.DB,
	}, nil
}

// New dials two independent Redis connections: cmd for ordinary commands,
// sub reserved for subscriptions, matching spec.md §4.4's "two broker
// connections are required" requirement.
func New(opts Options) *Client {
	mk := func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	return &Client{
		prefix:   opts.Prefix,
		cmd:      mk(),
		sub:      mk(),
		retryCfg: retry.Default,
	}
}

// Close releases both connections.
func (c *Client) Close() error {
	err1 := c.cmd.Close()
	err2 := c.sub.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Ping measures round-trip latency to the broker, reconnecting with bounded
// backoff on failure (spec.md §4.4).
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.cmd.Ping(ctx).Err()
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// SendInput pushes one input record onto the session's input queue.
func (c *Client) SendInput(ctx context.Context, session string, payload []byte) error {
	return c.cmd.LPush(ctx, c.inputKey(session), payload).Err()
}

// PopInput blocks (up to timeout) waiting for the next input record. Used by
// the in-container wrapper side of the contract; exported for the reference
// wrapper implementation (C8).
func (c *Client) PopInput(ctx context.Context, session string, timeout time.Duration) ([]byte, error) {
	res, err := c.cmd.BRPop(ctx, timeout, c.inputKey(session)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// SendInterrupt publishes on the control channel for currently-subscribed
// containers and enqueues on the interrupt queue for at-least-once delivery
// to containers that are not (spec.md §4.4).
func (c *Client) SendInterrupt(ctx context.Context, session string, payload []byte) error {
	if err := c.cmd.Publish(ctx, c.controlChannel(session), payload).Err(); err != nil {
		return err
	}
	return c.cmd.LPush(ctx, c.interruptQueueKey(session), payload).Err()
}

// PopInterrupt drains one persisted interrupt, non-blocking.
func (c *Client) PopInterrupt(ctx context.Context, session string) ([]byte, error) {
	res, err := c.sub.RPop(ctx, c.interruptQueueKey(session)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(res), nil
}

// PublishOutput publishes a formatted output record and appends it to the
// bounded, TTL'd replay buffer for late subscribers.
func (c *Client) PublishOutput(ctx context.Context, session string, payload []byte) error {
	if err := c.cmd.Publish(ctx, c.outputChannel(session), payload).Err(); err != nil {
		return err
	}
	bufKey := c.outputBufferKey(session)
	pipe := c.cmd.TxPipeline()
	pipe.LPush(ctx, bufKey, payload)
	pipe.LTrim(ctx, bufKey, 0, outputBufferLimit-1)
	pipe.Expire(ctx, bufKey, outputBufferTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetBufferedOutput returns the replay buffer, oldest first.
func (c *Client) GetBufferedOutput(ctx context.Context, session string) ([][]byte, error) {
	raw, err := c.cmd.LRange(ctx, c.outputBufferKey(session), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(raw))
	for i := range raw {
		// buffer is LPushed, so the newest entry is at index 0; reverse to
		// restore publication order.
		out[len(raw)-1-i] = []byte(raw[i])
	}
	return out, nil
}

// Unsubscribe stops a subscription started by SubscribeOutput.
type Unsubscribe func()

// SubscribeOutput subscribes to a session's output channel, invoking
// callback for every message until the returned handle is called.
func (c *Client) SubscribeOutput(ctx context.Context, session string, callback func([]byte)) Unsubscribe {
	return c.subscribe(ctx, c.outputChannel(session), callback)
}

// SubscribeControl subscribes to a session's control (interrupt) channel.
func (c *Client) SubscribeControl(ctx context.Context, session string, callback func([]byte)) Unsubscribe {
	return c.subscribe(ctx, c.controlChannel(session), callback)
}

func (c *Client) subscribe(ctx context.Context, channel string, callback func([]byte)) Unsubscribe {
	pubsub := c.sub.Subscribe(ctx, channel)
	done := make(chan struct{})

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				callback([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	var closed bool
	return func() {
		if closed {
			return
		}
		closed = true
		close(done)
		if err := pubsub.Close(); err != nil {
			slog.Debug("broker: pubsub close", "channel", channel, "err", err)
		}
	}
}

// UpdateState field-wise updates the session's state map and refreshes its
// TTL (spec.md §4.4's heartbeat-refreshed map semantics).
func (c *Client) UpdateState(ctx context.Context, session string, st State) error {
	key := c.stateKey(session)
	pipe := c.cmd.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":           st.Status,
		"last_heartbeat":   st.LastHeartbeat,
		"agent_session_id": st.AgentSessionID,
		"turn_count":       st.TurnCount,
	})
	pipe.Expire(ctx, key, stateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetState reads the session's state map. ok is false if the key has
// expired or was never set.
func (c *Client) GetState(ctx context.Context, session string) (st State, ok bool, err error) {
	res, err := c.cmd.HGetAll(ctx, c.stateKey(session)).Result()
	if err != nil {
		return State{}, false, err
	}
	if len(res) == 0 {
		return State{}, false, nil
	}
	st.Status = res["status"]
	st.AgentSessionID = res["agent_session_id"]
	if v, ok := res["last_heartbeat"]; ok {
		st.LastHeartbeat = parseInt64(v)
	}
	if v, ok := res["turn_count"]; ok {
		st.TurnCount = int(parseInt64(v))
	}
	return st, true, nil
}

// SetResult stores the terminal result for late waiters, TTL'd.
func (c *Client) SetResult(ctx context.Context, session string, payload []byte) error {
	return c.cmd.Set(ctx, c.resultKey(session), payload, resultTTL).Err()
}

// GetResult returns the stored terminal result, if any.
func (c *Client) GetResult(ctx context.Context, session string) ([]byte, bool, error) {
	res, err := c.cmd.Get(ctx, c.resultKey(session)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// WaitForResult polls for a terminal result or terminal state every 500ms
// until it appears or timeout elapses (spec.md §4.4).
func (c *Client) WaitForResult(ctx context.Context, session string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	if res, done, err := c.pollTerminal(ctx, session); err != nil {
		return nil, err
	} else if done {
		return res, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, ErrTimeout
			}
			res, done, err := c.pollTerminal(ctx, session)
			if err != nil {
				return nil, err
			}
			if done {
				return res, nil
			}
		}
	}
}

// pollTerminal checks for a stored result and, failing that, whether the
// session's state has already reached a terminal status with no result ever
// written (e.g. the wrapper crashed after marking itself stopped/failed).
// done is true in either case; res is nil when only the state was terminal.
func (c *Client) pollTerminal(ctx context.Context, session string) (res []byte, done bool, err error) {
	res, ok, err := c.GetResult(ctx, session)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return res, true, nil
	}

	st, ok, err := c.GetState(ctx, session)
	if err != nil {
		return nil, false, err
	}
	if ok && (st.Status == stateStopped || st.Status == stateFailed) {
		return nil, true, nil
	}
	return nil, false, nil
}

// ClearSession deletes every key belonging to session.
func (c *Client) ClearSession(ctx context.Context, session string) error {
	keys := []string{
		c.inputKey(session),
		c.outputBufferKey(session),
		c.stateKey(session),
		c.resultKey(session),
		c.interruptQueueKey(session),
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// Available reports whether the broker answered a ping within timeout.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Ping(ctx)
	return err == nil
}
