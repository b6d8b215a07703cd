package wrapperapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
)

// Loop runs the wrapper side of one container's lifetime: publish
// heartbeats, block-pop input records, hand each to a Driver, and publish
// whatever the Driver emits plus its terminal result. It exits when its
// context is cancelled or a stop interrupt arrives on the control channel
// (spec.md §4.8, §6.4).
type Loop struct {
	Session string
	Broker  *broker.Client
	Driver  Driver
	Logger  *slog.Logger
}

// Run blocks until ctx is cancelled or a stop interrupt is received.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := l.Broker.SubscribeControl(runCtx, l.Session, func(payload []byte) {
		var interrupt Interrupt
		if err := json.Unmarshal(payload, &interrupt); err != nil {
			return
		}
		if interrupt.Type == InterruptStop {
			cancel()
		}
	})
	defer unsubscribe()

	turns := 0
	l.publishState(context.Background(), StateIdle, turns)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-heartbeat.C:
				l.publishState(context.Background(), StateIdle, turns)
			}
		}
	}()

loop:
	for {
		raw, err := l.Broker.PopInput(runCtx, l.Session, HeartbeatInterval)
		if err != nil {
			if runCtx.Err() != nil {
				break loop
			}
			// Broker error: keep polling.
			continue
		}
		if raw == nil {
			// Pop timeout: nothing arrived this interval, keep polling.
			continue
		}

		var input InputRecord
		if err := json.Unmarshal(raw, &input); err != nil {
			logger.Warn("wrapperapi: discarding malformed input record", "error", err)
			continue
		}

		turns++
		l.publishState(context.Background(), StateRunning, turns)

		result, err := l.Driver.Process(runCtx, input, func(event []byte) {
			if pubErr := l.Broker.PublishOutput(context.Background(), l.Session, event); pubErr != nil {
				logger.Warn("wrapperapi: publish output", "error", pubErr)
			}
		})
		if err != nil {
			logger.Warn("wrapperapi: driver turn failed", "error", err)
			l.publishState(context.Background(), StateFailed, turns)
			continue
		}

		if err := l.Broker.SetResult(context.Background(), l.Session, result); err != nil {
			logger.Warn("wrapperapi: set result", "error", err)
		}
		if err := l.Broker.PublishOutput(context.Background(), l.Session, result); err != nil {
			logger.Warn("wrapperapi: publish result", "error", err)
		}
		l.publishState(context.Background(), StateIdle, turns)
	}

	<-hbDone
	l.publishState(context.Background(), StateStopped, turns)
	return nil
}

func (l *Loop) publishState(ctx context.Context, status string, turns int) {
	st := broker.State{
		Status:        status,
		LastHeartbeat: time.Now().UnixMilli(),
		TurnCount:     turns,
	}
	if err := l.Broker.UpdateState(ctx, l.Session, st); err != nil && l.Logger != nil {
		l.Logger.Warn("wrapperapi: publish state", "error", err)
	}
}
