// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleanup

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/arrmate/arrmate/internal/domain"
)

// Controller runs one cleanup cycle at a time: snapshot, filter chain,
// bulk delete. Construction validates the configured rules; a controller is
// immutable once built and is replaced wholesale on config reload.
type Controller struct {
	client  TorrentClient
	filters []Filter
	dryRun  bool
}

// NewController builds the filter chain for the given rules. Sonarr and
// radarr may be nil, in which case their cross-check filters are no-ops.
// An unparseable ratio expression fails construction.
func NewController(cfg domain.CleanupConfig, client TorrentClient, sonarr, radarr QueueClient) (*Controller, error) {
	ratioRule, err := ParseRatioRule(cfg.Ratio)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cleanup configuration")
	}

	trackerRules := make([]domain.TrackerRule, len(cfg.Trackers))
	for i, rule := range cfg.Trackers {
		ignore, err := domain.ParseTrackerIgnore(string(rule.Ignore))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid cleanup configuration for tracker %q", rule.Name)
		}
		rule.Ignore = ignore
		trackerRules[i] = rule
	}

	// Order matters for cost, not correctness: cheap local filters first,
	// the manager queue fetches last.
	filters := []Filter{
		newRatioFilter(ratioRule),
		newCategoryFilter(cfg.Categories),
		newTrackerFilter(trackerRules),
	}
	if sonarr != nil {
		filters = append(filters, newQueueFilter(sonarr))
	}
	if radarr != nil {
		filters = append(filters, newQueueFilter(radarr))
	}

	return &Controller{
		client:  client,
		filters: filters,
		dryRun:  cfg.DryRun,
	}, nil
}

// Execute runs one full cleanup cycle. Any stage failure aborts the cycle;
// the next tick starts over from a fresh snapshot.
func (c *Controller) Execute(ctx context.Context) error {
	if err := c.client.HealthCheck(ctx); err != nil {
		return errors.Wrap(err, "qBittorrent health check failed")
	}

	torrents, err := buildSnapshot(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to build torrent snapshot")
	}

	log.Debug().Int("torrents", len(torrents)).Msg("Built torrent snapshot")

	for _, filter := range c.filters {
		torrents, err = filter.Apply(ctx, torrents)
		if err != nil {
			return errors.Wrapf(err, "filter %q failed", filter.Name())
		}
		log.Debug().Str("filter", filter.Name()).Int("remaining", len(torrents)).Msg("Applied filter")
	}

	if len(torrents) == 0 {
		log.Trace().Msg("No torrents to delete")
		return nil
	}

	hashes := make([]string, 0, len(torrents))
	for _, torrent := range torrents {
		log.Info().Str("name", torrent.Name).Str("hash", torrent.Hash).Msg("Torrent selected for deletion")
		hashes = append(hashes, torrent.Hash)
	}

	if c.dryRun {
		log.Info().Int("count", len(hashes)).Msg("Dry run enabled, not deleting torrents")
		return nil
	}

	if err := c.client.DeleteTorrents(ctx, hashes); err != nil {
		return errors.Wrap(err, "failed to delete torrents")
	}

	log.Info().Int("count", len(hashes)).Msg("Deleted torrents")
	return nil
}
