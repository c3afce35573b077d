package client

import (
	"context"
	"sync"
	"time"

	"deskchat/deskchat/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Snapshot is one refresh of the agent's listings. Err is set when the
// refresh failed; the listings then hold the previous values.
type Snapshot struct {
	Unassigned  []types.Chat
	Assigned    []types.Chat
	RefreshedAt time.Time
	Err         error
}

// Coordinator lists claimable chats and claims them for the logged-in
// agent. The server decides races; the coordinator only reports and
// refreshes.
type Coordinator struct {
	api    *APIClient
	logger *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
}

func NewCoordinator(api *APIClient, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{api: api, logger: o.logger}
}

func (c *Coordinator) ListUnassigned(ctx context.Context) ([]types.Chat, error) {
	return c.api.ListAvailable(ctx)
}

func (c *Coordinator) ListAssignedTo(ctx context.Context, agentID string) ([]types.Chat, error) {
	return c.api.ListAssigned(ctx, agentID, string(types.StatusActive))
}

// Claim assigns chatID to the logged-in agent. Whatever the outcome, the
// listings are refreshed afterwards.
func (c *Coordinator) Claim(ctx context.Context, chatID string) (types.Chat, error) {
	if !c.api.Auth().LoggedIn() {
		return types.Chat{}, errors.Wrap(ErrUnauthorized, "claim: not logged in")
	}
	chat, err := c.api.Assign(ctx, chatID)
	if _, rerr := c.Refresh(ctx); rerr != nil {
		c.logger.Warn("refresh after claim failed", zap.String("chat_id", chatID), zap.Error(rerr))
	}
	if err != nil {
		return types.Chat{}, err
	}
	c.logger.Info("chat claimed", zap.String("chat_id", chatID), zap.String("agent_id", c.api.Auth().AgentID()))
	return chat, nil
}

// Refresh fetches both listings concurrently and stores the result.
func (c *Coordinator) Refresh(ctx context.Context) (Snapshot, error) {
	agentID := c.api.Auth().AgentID()
	var unassigned, assigned []types.Chat
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		unassigned, err = c.ListUnassigned(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		assigned, err = c.ListAssignedTo(gctx, agentID)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.snap.Err = err
		return c.snap, err
	}
	c.snap = Snapshot{
		Unassigned:  unassigned,
		Assigned:    assigned,
		RefreshedAt: time.Now(),
	}
	return c.snap, nil
}

// Snapshot returns the last refresh.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Watch refreshes now and then every interval, emitting each snapshot. The
// channel closes when ctx ends. A slow reader skips ticks rather than
// queueing them.
func (c *Coordinator) Watch(ctx context.Context, interval time.Duration) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			snap, _ := c.Refresh(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
