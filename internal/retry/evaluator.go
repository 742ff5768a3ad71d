// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package retry clears out manager queue entries whose downloads have
// stalled, never started, or failed import. Evidence accumulates across
// polling cycles in an in-memory strike ledger before an entry is removed.
package retry

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arrmate/arrmate/internal/arr"
)

const (
	defaultMaxStrikes      = 5
	defaultStalledInterval = 5 * time.Minute
	zeroProgressTimeout    = time.Hour

	stalledMarker       = "The download is stalled"
	dangerousFileMarker = "Found potentially dangerous file"
)

// strike tracks one continuously stalled download between cycles.
type strike struct {
	count        int
	lastSizeLeft float64
	lastChecked  time.Time
}

// Actions partitions one manager's queue into the entries to remove and the
// entries to remove and blocklist. Blocklist is sticky: an entry flagged by
// any blocklisting rule lands in the blocklist partition even when another
// rule alone would only have removed it.
type Actions struct {
	Remove             []arr.QueueRecord
	RemoveAndBlocklist []arr.QueueRecord
}

// Evaluator applies the stall and failure rules to queue entries. It owns
// the strike ledger; the ledger lives only as long as the evaluator and is
// discarded when controllers are rebuilt on config reload.
type Evaluator struct {
	queuedTimeout   time.Duration
	stalledInterval time.Duration
	maxStrikes      int

	strikes map[string]*strike
	now     func() time.Time
}

// NewEvaluator builds an evaluator. queuedTimeout of zero disables the
// queued-entry removal rule; stalledInterval and maxStrikes fall back to
// their defaults when not positive.
func NewEvaluator(queuedTimeout, stalledInterval time.Duration, maxStrikes int) *Evaluator {
	if stalledInterval <= 0 {
		stalledInterval = defaultStalledInterval
	}
	if maxStrikes <= 0 {
		maxStrikes = defaultMaxStrikes
	}
	return &Evaluator{
		queuedTimeout:   queuedTimeout,
		stalledInterval: stalledInterval,
		maxStrikes:      maxStrikes,
		strikes:         make(map[string]*strike),
		now:             time.Now,
	}
}

// Evaluate runs every queue entry through the rules and returns the removal
// partitions. Entries without an id or download id are ignored.
func (e *Evaluator) Evaluate(records []arr.QueueRecord) Actions {
	var actions Actions

	for i := range records {
		record := &records[i]
		if record.ID == 0 || record.DownloadID == "" {
			continue
		}

		remove, blocklist := e.evaluate(record)
		if !remove {
			continue
		}

		// The entry is leaving the queue either way.
		delete(e.strikes, record.DownloadID)

		if blocklist {
			actions.RemoveAndBlocklist = append(actions.RemoveAndBlocklist, *record)
		} else {
			actions.Remove = append(actions.Remove, *record)
		}
	}

	return actions
}

func (e *Evaluator) evaluate(record *arr.QueueRecord) (remove, blocklist bool) {
	now := e.now()

	// A failed import over a dangerous file is removed no matter what else
	// the entry looks like.
	if record.TrackedDownloadStatus == arr.TrackedDownloadStatusWarning &&
		record.TrackedDownloadState == arr.TrackedDownloadStateImportPending &&
		hasDangerousFileMessage(record.StatusMessages) {
		log.Info().Str("title", record.Title).Msg("Queue entry flagged a dangerous file, removing and blocklisting")
		return true, true
	}

	if record.Status == arr.QueueStatusWarning {
		if e.observeStalled(record, now) {
			remove, blocklist = true, true
		}

		// Stuck from the start: an hour after being added with nothing
		// downloaded at all.
		if !record.Added.IsZero() && now.After(record.Added.Add(zeroProgressTimeout)) &&
			record.Size-record.SizeLeft == 0 {
			log.Info().Str("title", record.Title).Time("added", record.Added).Msg("Queue entry made no progress since being added, removing and blocklisting")
			remove, blocklist = true, true
		}
	} else if s, ok := e.strikes[record.DownloadID]; ok {
		// Not stalled this cycle; keep the sampling timer honest without
		// awarding a strike.
		s.lastChecked = now
	}

	if record.Status == arr.QueueStatusQueued && e.queuedTimeout > 0 &&
		!record.Added.IsZero() && now.After(record.Added.Add(e.queuedTimeout)) {
		log.Info().Str("title", record.Title).Time("added", record.Added).Msg("Queue entry still queued past the timeout, removing")
		remove = true
	}

	return remove, blocklist
}

// observeStalled records one stalled observation and reports whether the
// entry has reached the strike limit.
func (e *Evaluator) observeStalled(record *arr.QueueRecord, now time.Time) bool {
	if record.TrackedDownloadState != arr.TrackedDownloadStateDownloading ||
		!strings.Contains(record.ErrorMessage, stalledMarker) {
		return false
	}

	s, ok := e.strikes[record.DownloadID]
	if !ok {
		// Backdate the first observation so it earns a strike immediately.
		s = &strike{
			lastSizeLeft: record.SizeLeft,
			lastChecked:  now.Add(-e.stalledInterval),
		}
		e.strikes[record.DownloadID] = s
	}

	// A strike requires a full sampling interval since the last check and
	// no progress in the meantime.
	if !now.Before(s.lastChecked.Add(e.stalledInterval)) && record.SizeLeft >= s.lastSizeLeft {
		s.count++
		s.lastSizeLeft = record.SizeLeft
		s.lastChecked = now
		log.Info().
			Str("title", record.Title).
			Int("strikes", s.count).
			Int("maxStrikes", e.maxStrikes).
			Msg("Download is stalled")
	}

	return s.count >= e.maxStrikes
}

func hasDangerousFileMessage(statusMessages []arr.StatusMessage) bool {
	for _, status := range statusMessages {
		for _, msg := range status.Messages {
			if strings.Contains(msg, dangerousFileMarker) {
				return true
			}
		}
	}
	return false
}
