// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/arrmate/arrmate/internal/arr"
	"github.com/arrmate/arrmate/internal/domain"
)

// QueueManager is the slice of the manager API the retry cycle needs.
// Satisfied by *arr.Client.
type QueueManager interface {
	Name() string
	GetQueue(ctx context.Context) ([]arr.QueueRecord, error)
	DeleteQueueBulk(ctx context.Context, ids []int64, opts arr.BulkDeleteOptions) error
}

// Controller runs one recovery cycle at a time against up to two managers.
// It owns the strike ledger through its evaluator; rebuilding the controller
// on config reload discards accumulated strikes.
type Controller struct {
	managers  []QueueManager
	evaluator *Evaluator
	dryRun    bool
}

func NewController(cfg domain.RetryConfig, managers ...QueueManager) *Controller {
	active := make([]QueueManager, 0, len(managers))
	for _, m := range managers {
		if m != nil {
			active = append(active, m)
		}
	}

	return &Controller{
		managers: active,
		evaluator: NewEvaluator(
			time.Duration(cfg.Timeout)*time.Second,
			time.Duration(cfg.StalledInterval)*time.Second,
			cfg.MaxStrikes,
		),
		dryRun: cfg.DryRun,
	}
}

// Execute fetches every manager's queue concurrently, then evaluates and
// acts per manager. A fetch failure aborts the whole cycle so the ledger
// only ever advances on complete observations.
func (c *Controller) Execute(ctx context.Context) error {
	queues := make([][]arr.QueueRecord, len(c.managers))

	g, gctx := errgroup.WithContext(ctx)
	for i, manager := range c.managers {
		g.Go(func() error {
			queue, err := manager.GetQueue(gctx)
			if err != nil {
				return errors.Wrapf(err, "failed to fetch %s queue", manager.Name())
			}
			queues[i] = queue
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, manager := range c.managers {
		actions := c.evaluator.Evaluate(queues[i])
		if err := c.apply(ctx, manager, actions); err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) apply(ctx context.Context, manager QueueManager, actions Actions) error {
	if err := c.deleteBatch(ctx, manager, actions.Remove, arr.BulkDeleteOptions{
		RemoveFromClient: true,
	}); err != nil {
		return err
	}

	return c.deleteBatch(ctx, manager, actions.RemoveAndBlocklist, arr.BulkDeleteOptions{
		RemoveFromClient: true,
		Blocklist:        true,
	})
}

func (c *Controller) deleteBatch(ctx context.Context, manager QueueManager, records []arr.QueueRecord, opts arr.BulkDeleteOptions) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		log.Info().
			Str("manager", manager.Name()).
			Str("title", record.Title).
			Bool("blocklist", opts.Blocklist).
			Msg("Removing queue entry")
		ids = append(ids, record.ID)
	}

	if c.dryRun {
		log.Info().
			Str("manager", manager.Name()).
			Int("count", len(ids)).
			Bool("blocklist", opts.Blocklist).
			Msg("Dry run enabled, not removing queue entries")
		return nil
	}

	if err := manager.DeleteQueueBulk(ctx, ids, opts); err != nil {
		return errors.Wrapf(err, "failed to remove queue entries from %s", manager.Name())
	}

	return nil
}
