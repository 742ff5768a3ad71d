// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import "time"

// QueueStatus is the manager-reported status of a queue entry.
type QueueStatus string

const (
	QueueStatusQueued      QueueStatus = "queued"
	QueueStatusDownloading QueueStatus = "downloading"
	QueueStatusCompleted   QueueStatus = "completed"
	QueueStatusWarning     QueueStatus = "warning"
)

// TrackedDownloadStatus reflects how the manager itself judges the download.
type TrackedDownloadStatus string

const (
	TrackedDownloadStatusOK      TrackedDownloadStatus = "ok"
	TrackedDownloadStatusWarning TrackedDownloadStatus = "warning"
	TrackedDownloadStatusError   TrackedDownloadStatus = "error"
)

// TrackedDownloadState is the manager's processing state for the download.
type TrackedDownloadState string

const (
	TrackedDownloadStateDownloading   TrackedDownloadState = "downloading"
	TrackedDownloadStateImportPending TrackedDownloadState = "importPending"
	TrackedDownloadStateImporting     TrackedDownloadState = "importing"
	TrackedDownloadStateFailedPending TrackedDownloadState = "failedPending"
)

// StatusMessage groups detail lines the manager attaches to a queue entry.
type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// QueueRecord is a single in-flight entry from /api/v3/queue.
type QueueRecord struct {
	ID                    int64                 `json:"id"`
	DownloadID            string                `json:"downloadId"`
	Title                 string                `json:"title"`
	Status                QueueStatus           `json:"status"`
	TrackedDownloadStatus TrackedDownloadStatus `json:"trackedDownloadStatus"`
	TrackedDownloadState  TrackedDownloadState  `json:"trackedDownloadState"`
	Size                  float64               `json:"size"`
	SizeLeft              float64               `json:"sizeleft"`
	Added                 time.Time             `json:"added"`
	ErrorMessage          string                `json:"errorMessage"`
	StatusMessages        []StatusMessage       `json:"statusMessages"`
}

type queuePage struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
	TotalRecords int           `json:"totalRecords"`
	Records      []QueueRecord `json:"records"`
}

// SystemStatus is the subset of /api/v3/system/status we care about.
type SystemStatus struct {
	AppName   string    `json:"appName"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"startTime"`
}

type healthResource struct {
	Source  string `json:"source"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type queueBulkResource struct {
	IDs []int64 `json:"ids"`
}

// BulkDeleteOptions mirror the flags of DELETE /api/v3/queue/bulk.
type BulkDeleteOptions struct {
	RemoveFromClient bool
	Blocklist        bool
	SkipRedownload   bool
	ChangeCategory   bool
}
