package client

import (
	"context"

	"github.com/rs/zerolog/log"

	"livequiz-service/internal/domain"
)

// Resync requests a full authoritative snapshot and waits for it. Missed
// events are never replayed after a disconnect; the snapshot replaces them,
// so a reconnecting client cannot double-apply effects. The wait is bounded
// by ctx.
func (c *Conn) Resync(ctx context.Context) (domain.SessionSnapshot, error) {
	snapshots := make(chan domain.SessionSnapshot, 1)
	unsubscribe := c.Subscribe(domain.EventResyncSnapshot, func(event domain.Event) {
		snapshot, err := Payload[domain.SessionSnapshot](event)
		if err != nil {
			return
		}
		select {
		case snapshots <- snapshot:
		default:
		}
	})
	defer unsubscribe()

	if err := c.Publish(domain.EventResyncRequest, nil); err != nil {
		return domain.SessionSnapshot{}, err
	}

	select {
	case snapshot := <-snapshots:
		c.setSnapshot(snapshot)
		return snapshot, nil
	case <-ctx.Done():
		return domain.SessionSnapshot{}, ctx.Err()
	case <-c.done:
		return domain.SessionSnapshot{}, domain.ErrConnectionLost
	}
}

// AutoResync resynchronises after every successful reconnect and hands the
// fresh snapshot to the callback. Returns the unsubscribe function.
func (c *Conn) AutoResync(ctx context.Context, onSnapshot func(domain.SessionSnapshot)) func() {
	return c.Subscribe(domain.EventReconnected, func(event domain.Event) {
		payload, err := Payload[domain.ReconnectedPayload](event)
		if err == nil {
			log.Info().Int("attempt", payload.Attempt).Str("channel", c.channel).Msg("reconnected, resyncing")
		}
		// handlers run on the read goroutine; the snapshot arrives on that
		// same goroutine, so the wait must happen elsewhere
		go func() {
			snapshot, err := c.Resync(ctx)
			if err != nil {
				log.Warn().Err(err).Str("channel", c.channel).Msg("resync failed")
				return
			}
			if onSnapshot != nil {
				onSnapshot(snapshot)
			}
		}()
	})
}
