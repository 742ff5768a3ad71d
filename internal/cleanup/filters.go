// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleanup

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arrmate/arrmate/internal/arr"
	"github.com/arrmate/arrmate/internal/domain"
	"github.com/arrmate/arrmate/pkg/hardlink"
)

// Filter narrows a delete-candidate set. A torrent a filter drops is exempt
// from deletion for this cycle; whatever survives the whole chain is deleted.
type Filter interface {
	Name() string
	Apply(ctx context.Context, torrents []Torrent) ([]Torrent, error)
}

type ratioFilter struct {
	rule *RatioRule
}

func newRatioFilter(rule *RatioRule) *ratioFilter {
	return &ratioFilter{rule: rule}
}

func (f *ratioFilter) Name() string { return "ratio" }

func (f *ratioFilter) Apply(_ context.Context, torrents []Torrent) ([]Torrent, error) {
	if f.rule == nil {
		return torrents, nil
	}

	result := make([]Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		if f.rule.Matches(torrent.Ratio) {
			log.Debug().
				Str("name", torrent.Name).
				Float64("ratio", torrent.Ratio).
				Str("rule", f.rule.Qualifier).
				Float64("threshold", f.rule.Threshold).
				Msg("Keeping torrent, ratio rule matched")
			continue
		}
		result = append(result, torrent)
	}
	return result, nil
}

type categoryFilter struct {
	ignored map[string]struct{}
}

func newCategoryFilter(rules []domain.CategoryRule) *categoryFilter {
	ignored := make(map[string]struct{})
	for _, rule := range rules {
		if rule.Ignore {
			ignored[rule.Name] = struct{}{}
		}
	}
	return &categoryFilter{ignored: ignored}
}

func (f *categoryFilter) Name() string { return "categories" }

func (f *categoryFilter) Apply(_ context.Context, torrents []Torrent) ([]Torrent, error) {
	if len(f.ignored) == 0 {
		return torrents, nil
	}

	result := make([]Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		if _, ok := f.ignored[torrent.Category]; ok {
			log.Debug().
				Str("name", torrent.Name).
				Str("category", torrent.Category).
				Msg("Keeping torrent, category is ignored")
			continue
		}
		result = append(result, torrent)
	}
	return result, nil
}

type trackerFilter struct {
	rules []domain.TrackerRule

	// linkCount is swapped out in tests.
	linkCount func(path string) (uint64, error)
}

func newTrackerFilter(rules []domain.TrackerRule) *trackerFilter {
	return &trackerFilter{rules: rules, linkCount: hardlink.LinkCount}
}

func (f *trackerFilter) Name() string { return "trackers" }

func (f *trackerFilter) Apply(_ context.Context, torrents []Torrent) ([]Torrent, error) {
	if len(f.rules) == 0 {
		return torrents, nil
	}

	result := make([]Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		if f.exempt(torrent) {
			continue
		}
		result = append(result, torrent)
	}
	return result, nil
}

// exempt reports whether any tracker rule protects the torrent from
// deletion. The first rule that triggers wins; later rules are not evaluated.
func (f *trackerFilter) exempt(torrent Torrent) bool {
	hosts := trackerHosts(torrent.TrackerURLs)

	// The hard-link share is only meaningful once the torrent has all its
	// data on disk.
	linkedPercent := -1.0
	if torrent.Progress == 1.0 {
		linkedPercent = f.multiLinkedPercent(torrent)
	}

	for i := range f.rules {
		rule := &f.rules[i]
		if !ruleMatchesHost(rule, hosts) {
			continue
		}

		if rule.Ignore == domain.TrackerIgnoreAlways {
			log.Debug().
				Str("name", torrent.Name).
				Str("tracker", rule.Name).
				Msg("Keeping torrent, tracker is always ignored")
			return true
		}

		ratioReached := rule.Ratio != nil && torrent.Ratio > *rule.Ratio
		seedingReached := rule.SeedingTime != nil && torrent.SeedingTime > *rule.SeedingTime

		if rule.RequireBoth && ratioReached && seedingReached {
			log.Debug().
				Str("name", torrent.Name).
				Str("tracker", rule.Name).
				Float64("ratio", torrent.Ratio).
				Int64("seedingTime", torrent.SeedingTime).
				Msg("Keeping torrent, tracker ratio and seeding time thresholds exceeded")
			return true
		} else if ratioReached {
			log.Debug().
				Str("name", torrent.Name).
				Str("tracker", rule.Name).
				Float64("ratio", torrent.Ratio).
				Msg("Keeping torrent, tracker ratio threshold exceeded")
			return true
		} else if seedingReached {
			log.Debug().
				Str("name", torrent.Name).
				Str("tracker", rule.Name).
				Int64("seedingTime", torrent.SeedingTime).
				Msg("Keeping torrent, tracker seeding time threshold exceeded")
			return true
		}

		if rule.Ignore == domain.TrackerIgnoreHardLinks && linkedPercent >= 0 && linkedPercent >= rule.HardLinksPercent {
			log.Debug().
				Str("name", torrent.Name).
				Str("tracker", rule.Name).
				Float64("linkedPercent", linkedPercent).
				Msg("Keeping torrent, hard-linked share above tracker threshold")
			return true
		}
	}

	return false
}

// multiLinkedPercent returns the percentage of the torrent's bytes that live
// in files with more than one hard link. Files that cannot be stat'd are
// counted as singly linked.
func (f *trackerFilter) multiLinkedPercent(torrent Torrent) float64 {
	if torrent.Size <= 0 {
		return 0
	}

	percent := 0.0
	for _, file := range torrent.Files {
		path := filepath.Join(torrent.SavePath, file.Path)
		links, err := f.linkCount(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Failed to read link count")
			continue
		}
		if links > 1 {
			percent += float64(file.Size) / float64(torrent.Size) * 100.0
		}
	}

	log.Trace().
		Str("name", torrent.Name).
		Float64("linkedPercent", percent).
		Msg("Computed multiply hard-linked share")

	return percent
}

func ruleMatchesHost(rule *domain.TrackerRule, hosts []string) bool {
	for _, host := range hosts {
		for _, domainName := range rule.Domains {
			if host == domainName {
				return true
			}
		}
	}
	return false
}

func trackerHosts(urls []string) []string {
	hosts := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		hosts = append(hosts, u.Hostname())
	}
	return hosts
}

// QueueClient is the slice of the manager API the cross-check filter needs.
// Satisfied by *arr.Client.
type QueueClient interface {
	Name() string
	GetSystemStatus(ctx context.Context) (*arr.SystemStatus, error)
	GetQueue(ctx context.Context) ([]arr.QueueRecord, error)
}

// restartGraceWindow suppresses deletion while a manager's queue may still
// be cold after a restart.
const restartGraceWindow = 2 * time.Minute

type queueFilter struct {
	client QueueClient
	now    func() time.Time
}

func newQueueFilter(client QueueClient) *queueFilter {
	return &queueFilter{client: client, now: time.Now}
}

func (f *queueFilter) Name() string { return f.client.Name() }

func (f *queueFilter) Apply(ctx context.Context, torrents []Torrent) ([]Torrent, error) {
	queue, err := f.client.GetQueue(ctx)
	if err != nil {
		return nil, err
	}

	log.Trace().Str("manager", f.client.Name()).Int("queueSize", len(queue)).Msg("Fetched manager queue")

	if len(queue) == 0 {
		status, err := f.client.GetSystemStatus(ctx)
		if err != nil {
			return nil, err
		}
		if !status.StartTime.IsZero() && f.now().Before(status.StartTime.Add(restartGraceWindow)) {
			log.Info().
				Str("manager", f.client.Name()).
				Time("startTime", status.StartTime).
				Msg("Manager restarted recently with an empty queue, suppressing deletion this cycle")
			return nil, nil
		}
	}

	active := make(map[string]struct{}, len(queue))
	for _, record := range queue {
		if record.DownloadID == "" {
			continue
		}
		active[strings.ToLower(record.DownloadID)] = struct{}{}
	}

	result := make([]Torrent, 0, len(torrents))
	for _, torrent := range torrents {
		if _, ok := active[strings.ToLower(torrent.Hash)]; ok {
			log.Debug().
				Str("name", torrent.Name).
				Str("manager", f.client.Name()).
				Msg("Keeping torrent, still present in manager queue")
			continue
		}
		result = append(result, torrent)
	}
	return result, nil
}
