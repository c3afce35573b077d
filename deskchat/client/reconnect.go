package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReconnectPolicy bounds the exponential backoff used to re-join a dropped
// session. Zero fields take the defaults.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	def := DefaultReconnectPolicy()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = def.InitialInterval
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	eb.MaxInterval = def.MaxInterval
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = def.MaxElapsedTime
	if p.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = p.MaxElapsedTime
	}
	eb.Reset()
	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// reconnectWith joins a fresh channel, then reconciles history by seq, then
// swaps the channel in. Joining first means nothing sent in between is lost:
// it is either in the re-fetched history or queued on the new channel.
func (s *ChatSession) reconnectWith(p ReconnectPolicy) (Channel, error) {
	var next Channel
	op := func() error {
		if s.life.Err() != nil {
			return backoff.Permanent(errors.Wrap(ErrSessionClosed, "reconnect"))
		}
		ch := s.newChannel()
		if !s.track(ch) {
			ch.Close()
			return backoff.Permanent(errors.Wrap(ErrSessionClosed, "reconnect"))
		}
		if err := ch.Open(s.life); err != nil {
			if s.untrack(ch) {
				ch.Close()
			}
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := s.catchUp(s.life); err != nil {
			if s.untrack(ch) {
				ch.Close()
			}
			if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		next = ch
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Info("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, p.backOff(s.life), notify); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != SessionActive {
		// Close already tore down the pending channel.
		s.mu.Unlock()
		return nil, errors.Wrap(ErrSessionClosed, "reconnect")
	}
	old := s.channel
	s.pending = nil
	s.channel = next
	s.conn = ConnJoined
	s.emitLocked(SessionEvent{Kind: EventConnectionChanged, State: ConnJoined})
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.logger.Info("session reconnected")
	return next, nil
}
