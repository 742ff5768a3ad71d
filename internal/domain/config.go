// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"strings"
)

// Config represents the application configuration
type Config struct {
	Version         string
	LogLevel        string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath         string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize      int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups   int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	RefreshInterval int    `toml:"refreshInterval" mapstructure:"refreshInterval"`

	QBittorrent QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Sonarr      *ArrConfig        `toml:"sonarr" mapstructure:"sonarr"`
	Radarr      *ArrConfig        `toml:"radarr" mapstructure:"radarr"`
	Cleanup     CleanupConfig     `toml:"cleanup" mapstructure:"cleanup"`
	Retry       *RetryConfig      `toml:"retry" mapstructure:"retry"`
}

// QBittorrentConfig holds the torrent client connection settings.
type QBittorrentConfig struct {
	Host          string `toml:"host" mapstructure:"host"`
	Username      string `toml:"username" mapstructure:"username"`
	Password      string `toml:"password" mapstructure:"password"`
	TLSSkipVerify bool   `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
	Timeout       int    `toml:"timeout" mapstructure:"timeout"`
}

// ArrConfig holds connection settings for a Sonarr or Radarr instance.
type ArrConfig struct {
	Host   string `toml:"host" mapstructure:"host"`
	APIKey string `toml:"apiKey" mapstructure:"apiKey"`
}

// CleanupConfig drives the torrent cleanup cycle.
type CleanupConfig struct {
	// Ratio is a comparison expression against the global share ratio,
	// e.g. "<1.0" or ">=2". Empty disables the ratio filter.
	Ratio      string         `toml:"ratio" mapstructure:"ratio"`
	DryRun     bool           `toml:"dryRun" mapstructure:"dryRun"`
	Categories []CategoryRule `toml:"categories" mapstructure:"categories"`
	Trackers   []TrackerRule  `toml:"trackers" mapstructure:"trackers"`
}

// CategoryRule marks a qBittorrent category as exempt from cleanup.
type CategoryRule struct {
	Name   string `toml:"name" mapstructure:"name"`
	Ignore bool   `toml:"ignore" mapstructure:"ignore"`
}

// TrackerIgnore selects when a tracker rule exempts a torrent from deletion.
type TrackerIgnore string

const (
	TrackerIgnoreNever     TrackerIgnore = "never"
	TrackerIgnoreAlways    TrackerIgnore = "always"
	TrackerIgnoreHardLinks TrackerIgnore = "hardlinks"
)

// ParseTrackerIgnore normalizes a configured ignore policy. Empty means never.
func ParseTrackerIgnore(raw string) (TrackerIgnore, error) {
	switch TrackerIgnore(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TrackerIgnoreNever:
		return TrackerIgnoreNever, nil
	case TrackerIgnoreAlways:
		return TrackerIgnoreAlways, nil
	case TrackerIgnoreHardLinks:
		return TrackerIgnoreHardLinks, nil
	default:
		return "", fmt.Errorf("invalid tracker ignore policy %q", raw)
	}
}

// TrackerRule configures per-tracker deletion thresholds. Domains are matched
// case-sensitively against the parsed host of each announce URL.
type TrackerRule struct {
	Name    string   `toml:"name" mapstructure:"name"`
	Domains []string `toml:"domains" mapstructure:"domains"`

	// Ratio and SeedingTime are thresholds the torrent must exceed before the
	// rule exempts it. Nil leaves that threshold unset.
	Ratio       *float64 `toml:"ratio" mapstructure:"ratio"`
	SeedingTime *int64   `toml:"seedingTime" mapstructure:"seedingTime"`

	// RequireBoth demands that both thresholds are exceeded together.
	RequireBoth bool `toml:"requireBoth" mapstructure:"requireBoth"`

	Ignore TrackerIgnore `toml:"ignore" mapstructure:"ignore"`

	// HardLinksPercent is the minimum percentage of the torrent's bytes that
	// must live in multiply hard-linked files for the hardlinks policy to
	// exempt a completed torrent.
	HardLinksPercent float64 `toml:"hardLinksPercent" mapstructure:"hardLinksPercent"`
}

// RetryConfig drives the stuck-download recovery cycle.
type RetryConfig struct {
	// Timeout in seconds before a still-queued entry is removed.
	Timeout int `toml:"timeout" mapstructure:"timeout"`

	// StalledInterval in seconds between strike samples. Defaults to 300.
	StalledInterval int `toml:"stalledInterval" mapstructure:"stalledInterval"`

	// MaxStrikes before a stalled download is removed and blocklisted.
	// Defaults to 5.
	MaxStrikes int `toml:"maxStrikes" mapstructure:"maxStrikes"`

	DryRun bool `toml:"dryRun" mapstructure:"dryRun"`
}

const (
	MinRefreshInterval = 60
	MaxRefreshInterval = 3600
)

// Validate checks the parts of the configuration without which the process
// cannot run at all. Per-cycle rule validation happens at controller
// construction so a bad rule only disables that cycle.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.QBittorrent.Host) == "" {
		return fmt.Errorf("qbittorrent.host is required")
	}
	if c.RefreshInterval < MinRefreshInterval || c.RefreshInterval > MaxRefreshInterval {
		return fmt.Errorf("refreshInterval must be between %d and %d seconds, got %d",
			MinRefreshInterval, MaxRefreshInterval, c.RefreshInterval)
	}
	for _, arr := range []struct {
		name string
		cfg  *ArrConfig
	}{{"sonarr", c.Sonarr}, {"radarr", c.Radarr}} {
		if arr.cfg == nil {
			continue
		}
		if strings.TrimSpace(arr.cfg.Host) == "" || strings.TrimSpace(arr.cfg.APIKey) == "" {
			return fmt.Errorf("%s requires both host and apiKey", arr.name)
		}
	}
	return nil
}
