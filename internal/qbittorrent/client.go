// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the go-qbittorrent client with capability
// detection and the torrent views arrmate needs.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/arrmate/arrmate/internal/domain"
)

var (
	trackerListingMinVersion = semver.MustParse("2.2.0")
	filesInfoMinVersion      = semver.MustParse("2.0.0")
)

const minHealthCheckInterval = 30 * time.Second

type Client struct {
	*qbt.Client
	host                   string
	webAPIVersion          string
	supportsTrackerListing bool
	supportsFilesInfo      bool
	lastHealthCheck        time.Time
	isHealthy              bool
	mu                     sync.RWMutex
	healthMu               sync.RWMutex
}

// NewClient connects to the qBittorrent instance described by cfg and
// verifies its WebAPI capabilities.
func NewClient(ctx context.Context, cfg domain.QBittorrentConfig) (*Client, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	})

	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to qBittorrent instance")
	}

	client := &Client{
		Client:          qbtClient,
		host:            cfg.Host,
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("host", cfg.Host).
			Msg("Failed to refresh qBittorrent capabilities during client creation")
		client.updateHealthStatus(false)
	} else {
		client.updateHealthStatus(true)
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("webAPIVersion", client.GetWebAPIVersion()).
		Bool("supportsTrackerListing", client.SupportsTrackerListing()).
		Bool("tlsSkipVerify", cfg.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

// RefreshCapabilities fetches the latest WebAPI version information and recalculates feature support flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	previousVersion := c.webAPIVersion
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	if previousVersion != version {
		log.Trace().
			Str("host", c.host).
			Str("previousWebAPIVersion", previousVersion).
			Str("webAPIVersion", version).
			Msg("Refreshed qBittorrent capabilities")
	}

	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("host", c.host).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsTrackerListing = !v.LessThan(trackerListingMinVersion)
	c.supportsFilesInfo = !v.LessThan(filesInfoMinVersion)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Now().Add(-minHealthCheckInterval).Before(c.GetLastHealthCheck()) {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

func (c *Client) SupportsTrackerListing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTrackerListing
}

func (c *Client) SupportsFilesInfo() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsFilesInfo
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

// ListTorrents returns every torrent the instance currently manages.
func (c *Client) ListTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	torrents, err := c.Client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		c.updateHealthStatus(false)
		return nil, errors.Wrap(err, "failed to list torrents")
	}

	c.updateHealthStatus(true)
	return torrents, nil
}

// TorrentTrackers returns the tracker list for a single torrent.
func (c *Client) TorrentTrackers(ctx context.Context, hash string) ([]qbt.TorrentTracker, error) {
	if !c.SupportsTrackerListing() {
		return nil, fmt.Errorf("qBittorrent WebAPI %s does not support tracker listing", c.GetWebAPIVersion())
	}

	trackers, err := c.Client.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get trackers for torrent %s", hash)
	}

	return trackers, nil
}

// TorrentFiles returns the file listing for a single torrent.
func (c *Client) TorrentFiles(ctx context.Context, hash string) (*qbt.TorrentFiles, error) {
	if !c.SupportsFilesInfo() {
		return nil, fmt.Errorf("qBittorrent WebAPI %s does not support file listing", c.GetWebAPIVersion())
	}

	files, err := c.Client.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get files for torrent %s", hash)
	}

	return files, nil
}

// DeleteTorrents removes the given torrents and their data from the instance.
func (c *Client) DeleteTorrents(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	if err := c.Client.DeleteTorrentsCtx(ctx, hashes, true); err != nil {
		return errors.Wrap(err, "failed to delete torrents")
	}

	log.Info().
		Str("host", c.host).
		Int("count", len(hashes)).
		Msg("Deleted torrents with data")

	return nil
}
