// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cleanup decides which torrents are safe to delete. Each cycle it
// builds a fresh snapshot of the client's torrents and runs it through an
// ordered chain of filters; whatever survives the chain is removed from the
// client together with its data.
package cleanup

import (
	"context"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// TorrentClient is the slice of the qBittorrent wrapper the cleanup cycle
// needs. Satisfied by *qbittorrent.Client.
type TorrentClient interface {
	HealthCheck(ctx context.Context) error
	ListTorrents(ctx context.Context) ([]qbt.Torrent, error)
	TorrentTrackers(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	TorrentFiles(ctx context.Context, hash string) (*qbt.TorrentFiles, error)
	DeleteTorrents(ctx context.Context, hashes []string) error
}

// Torrent is the per-cycle record the filters operate on. Built fresh from
// the client snapshot at the top of every cycle and never persisted.
type Torrent struct {
	Hash        string
	Name        string
	Size        int64
	SavePath    string
	Category    string
	Ratio       float64
	SeedingTime int64
	Progress    float64
	TrackerURLs []string
	Files       []TorrentFile
}

// TorrentFile is a single content file within a torrent.
type TorrentFile struct {
	Path string
	Size int64
}

// buildSnapshot turns the client's torrent list into the internal record set.
// A torrent whose hash is missing, or whose trackers or files cannot be
// fetched, is skipped; the rest of the snapshot still goes through.
func buildSnapshot(ctx context.Context, client TorrentClient) ([]Torrent, error) {
	list, err := client.ListTorrents(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make([]Torrent, 0, len(list))
	for _, t := range list {
		if t.Hash == "" {
			log.Warn().Str("name", t.Name).Msg("Skipping torrent without hash")
			continue
		}

		trackers, err := client.TorrentTrackers(ctx, t.Hash)
		if err != nil {
			log.Error().Err(err).Str("hash", t.Hash).Str("name", t.Name).Msg("Failed to get torrent trackers, skipping torrent")
			continue
		}

		files, err := client.TorrentFiles(ctx, t.Hash)
		if err != nil {
			log.Error().Err(err).Str("hash", t.Hash).Str("name", t.Name).Msg("Failed to get torrent files, skipping torrent")
			continue
		}

		record := Torrent{
			Hash:        t.Hash,
			Name:        t.Name,
			Size:        t.TotalSize,
			SavePath:    t.SavePath,
			Category:    t.Category,
			Ratio:       t.Ratio,
			SeedingTime: t.SeedingTime,
			Progress:    t.Progress,
		}

		for _, tracker := range trackers {
			if tracker.Url == "" {
				continue
			}
			record.TrackerURLs = append(record.TrackerURLs, tracker.Url)
		}

		if files != nil {
			for _, f := range *files {
				record.Files = append(record.Files, TorrentFile{Path: f.Name, Size: f.Size})
			}
		}

		snapshot = append(snapshot, record)
	}

	return snapshot, nil
}
