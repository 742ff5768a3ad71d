// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrmate/arrmate/internal/arr"
	"github.com/arrmate/arrmate/internal/domain"
)

func hashes(torrents []Torrent) []string {
	out := make([]string, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, t.Hash)
	}
	return out
}

func TestRatioFilter(t *testing.T) {
	rule, err := ParseRatioRule("<1.0")
	require.NoError(t, err)

	torrents := []Torrent{
		{Hash: "aaa", Name: "under", Ratio: 0.4},
		{Hash: "bbb", Name: "over", Ratio: 1.2},
		{Hash: "ccc", Name: "exact", Ratio: 1.0},
		{Hash: "ddd", Name: "unknown", Ratio: -1},
	}

	result, err := newRatioFilter(rule).Apply(context.Background(), torrents)
	require.NoError(t, err)

	// Torrents matching the rule are exempt; unknown ratios stay candidates.
	assert.Equal(t, []string{"bbb", "ccc", "ddd"}, hashes(result))
}

func TestRatioFilterUnconfigured(t *testing.T) {
	torrents := []Torrent{{Hash: "aaa", Ratio: 0.1}}

	result, err := newRatioFilter(nil).Apply(context.Background(), torrents)
	require.NoError(t, err)
	assert.Equal(t, torrents, result)
}

func TestCategoryFilter(t *testing.T) {
	rules := []domain.CategoryRule{
		{Name: "tv-sonarr", Ignore: true},
		{Name: "movies", Ignore: false},
	}

	torrents := []Torrent{
		{Hash: "aaa", Category: "tv-sonarr"},
		{Hash: "bbb", Category: "movies"},
		{Hash: "ccc", Category: ""},
	}

	result, err := newCategoryFilter(rules).Apply(context.Background(), torrents)
	require.NoError(t, err)
	assert.Equal(t, []string{"bbb", "ccc"}, hashes(result))
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestTrackerFilterAlwaysIgnoreWins(t *testing.T) {
	filter := newTrackerFilter([]domain.TrackerRule{
		{
			Name:    "private",
			Domains: []string{"tracker.example.org"},
			Ignore:  domain.TrackerIgnoreAlways,
			// Thresholds that would not exempt this torrent on their own.
			Ratio: floatPtr(10.0),
		},
		{
			Name:    "also-private",
			Domains: []string{"tracker.example.org"},
			Ratio:   floatPtr(10.0),
		},
	})

	torrents := []Torrent{
		{Hash: "aaa", Ratio: 0.1, TrackerURLs: []string{"https://tracker.example.org/announce"}},
		{Hash: "bbb", Ratio: 0.1, TrackerURLs: []string{"https://other.example.net/announce"}},
	}

	result, err := filter.Apply(context.Background(), torrents)
	require.NoError(t, err)
	assert.Equal(t, []string{"bbb"}, hashes(result))
}

func TestTrackerFilterThresholds(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.TrackerRule
		torrent Torrent
		exempt  bool
	}{
		{
			name:    "ratio exceeded",
			rule:    domain.TrackerRule{Domains: []string{"t.example"}, Ratio: floatPtr(1.0)},
			torrent: Torrent{Ratio: 1.5, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  true,
		},
		{
			name:    "ratio at threshold is not exceeded",
			rule:    domain.TrackerRule{Domains: []string{"t.example"}, Ratio: floatPtr(1.0)},
			torrent: Torrent{Ratio: 1.0, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  false,
		},
		{
			name:    "seeding time exceeded",
			rule:    domain.TrackerRule{Domains: []string{"t.example"}, SeedingTime: int64Ptr(3600)},
			torrent: Torrent{SeedingTime: 7200, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  true,
		},
		{
			name: "require both with only ratio exceeded",
			rule: domain.TrackerRule{
				Domains:     []string{"t.example"},
				Ratio:       floatPtr(1.0),
				SeedingTime: int64Ptr(3600),
				RequireBoth: true,
			},
			torrent: Torrent{Ratio: 2.0, SeedingTime: 60, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  true,
		},
		{
			name: "require both with neither exceeded",
			rule: domain.TrackerRule{
				Domains:     []string{"t.example"},
				Ratio:       floatPtr(1.0),
				SeedingTime: int64Ptr(3600),
				RequireBoth: true,
			},
			torrent: Torrent{Ratio: 0.5, SeedingTime: 60, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  false,
		},
		{
			name: "require both with both exceeded",
			rule: domain.TrackerRule{
				Domains:     []string{"t.example"},
				Ratio:       floatPtr(1.0),
				SeedingTime: int64Ptr(3600),
				RequireBoth: true,
			},
			torrent: Torrent{Ratio: 2.0, SeedingTime: 7200, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  true,
		},
		{
			name:    "domain match is case sensitive",
			rule:    domain.TrackerRule{Domains: []string{"T.Example"}, Ratio: floatPtr(0.0)},
			torrent: Torrent{Ratio: 5.0, TrackerURLs: []string{"https://t.example/announce"}},
			exempt:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := newTrackerFilter([]domain.TrackerRule{tt.rule})
			tt.torrent.Hash = "aaa"

			result, err := filter.Apply(context.Background(), []Torrent{tt.torrent})
			require.NoError(t, err)
			if tt.exempt {
				assert.Empty(t, result)
			} else {
				assert.Equal(t, []string{"aaa"}, hashes(result))
			}
		})
	}
}

func TestTrackerFilterHardLinks(t *testing.T) {
	rule := domain.TrackerRule{
		Name:             "linked",
		Domains:          []string{"t.example"},
		Ignore:           domain.TrackerIgnoreHardLinks,
		HardLinksPercent: 50,
	}

	newFilter := func(links uint64) *trackerFilter {
		filter := newTrackerFilter([]domain.TrackerRule{rule})
		filter.linkCount = func(string) (uint64, error) { return links, nil }
		return filter
	}

	torrent := Torrent{
		Hash:        "aaa",
		Size:        100,
		Progress:    1.0,
		SavePath:    "/downloads",
		TrackerURLs: []string{"https://t.example/announce"},
		Files: []TorrentFile{
			{Path: "a.mkv", Size: 60},
			{Path: "b.mkv", Size: 40},
		},
	}

	t.Run("multiply linked completed torrent is exempt", func(t *testing.T) {
		result, err := newFilter(2).Apply(context.Background(), []Torrent{torrent})
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("singly linked torrent stays a candidate", func(t *testing.T) {
		result, err := newFilter(1).Apply(context.Background(), []Torrent{torrent})
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa"}, hashes(result))
	})

	t.Run("incomplete torrent is never exempted by link counts", func(t *testing.T) {
		incomplete := torrent
		incomplete.Progress = 0.99

		filter := newFilter(2)
		statted := false
		filter.linkCount = func(string) (uint64, error) {
			statted = true
			return 2, nil
		}

		result, err := filter.Apply(context.Background(), []Torrent{incomplete})
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa"}, hashes(result))
		assert.False(t, statted)
	})
}

type fakeQueueClient struct {
	name      string
	queue     []arr.QueueRecord
	startTime time.Time
	queueErr  error
}

func (f *fakeQueueClient) Name() string { return f.name }

func (f *fakeQueueClient) GetSystemStatus(context.Context) (*arr.SystemStatus, error) {
	return &arr.SystemStatus{AppName: f.name, StartTime: f.startTime}, nil
}

func (f *fakeQueueClient) GetQueue(context.Context) ([]arr.QueueRecord, error) {
	return f.queue, f.queueErr
}

func TestQueueFilter(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	torrents := []Torrent{
		{Hash: "AAA111", Name: "managed"},
		{Hash: "bbb222", Name: "loose"},
	}

	t.Run("drops torrents still in the queue case insensitively", func(t *testing.T) {
		filter := newQueueFilter(&fakeQueueClient{
			name:  "sonarr",
			queue: []arr.QueueRecord{{ID: 1, DownloadID: "aaa111"}},
		})
		filter.now = func() time.Time { return now }

		result, err := filter.Apply(context.Background(), torrents)
		require.NoError(t, err)
		assert.Equal(t, []string{"bbb222"}, hashes(result))
	})

	t.Run("empty queue right after restart suppresses everything", func(t *testing.T) {
		filter := newQueueFilter(&fakeQueueClient{
			name:      "sonarr",
			startTime: now.Add(-time.Minute),
		})
		filter.now = func() time.Time { return now }

		result, err := filter.Apply(context.Background(), torrents)
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("empty queue with an old start time passes everything through", func(t *testing.T) {
		filter := newQueueFilter(&fakeQueueClient{
			name:      "sonarr",
			startTime: now.Add(-10 * time.Minute),
		})
		filter.now = func() time.Time { return now }

		result, err := filter.Apply(context.Background(), torrents)
		require.NoError(t, err)
		assert.Equal(t, []string{"AAA111", "bbb222"}, hashes(result))
	})
}
