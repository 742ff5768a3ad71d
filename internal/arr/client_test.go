// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrmate/arrmate/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("sonarr", domain.ArrConfig{Host: server.URL, APIKey: "test-key"})
	return client, server
}

func healthOK(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode([]healthResource{})
}

func TestGetQueuePagedFetch(t *testing.T) {
	var pageSizes []string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		switch r.URL.Path {
		case "/api/v3/health":
			healthOK(w)
		case "/api/v3/queue":
			pageSize := r.URL.Query().Get("pageSize")
			pageSizes = append(pageSizes, pageSize)

			page := queuePage{TotalRecords: 2}
			if pageSize != "0" {
				page.Records = []QueueRecord{
					{ID: 1, DownloadID: "aaa", Title: "One"},
					{ID: 2, DownloadID: "bbb", Title: "Two"},
				}
			}
			_ = json.NewEncoder(w).Encode(page)
		default:
			http.NotFound(w, r)
		}
	}))

	queue, err := client.GetQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "aaa", queue[0].DownloadID)

	// Probe with pageSize=0 first, then the full page.
	assert.Equal(t, []string{"0", "2"}, pageSizes)
}

func TestGetQueueEmpty(t *testing.T) {
	requests := 0

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/health":
			healthOK(w)
		case "/api/v3/queue":
			requests++
			_ = json.NewEncoder(w).Encode(queuePage{TotalRecords: 0})
		default:
			http.NotFound(w, r)
		}
	}))

	queue, err := client.GetQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queue)

	// No second fetch when the probe reports an empty queue.
	assert.Equal(t, 1, requests)
}

func TestGetQueueHealthGate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/health":
			_ = json.NewEncoder(w).Encode([]healthResource{
				{Source: "DownloadClientCheck", Type: "error", Message: "Unable to communicate with qBittorrent"},
			})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))

	_, err := client.GetQueue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestGetQueueIgnoresUnrelatedHealthErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/health":
			_ = json.NewEncoder(w).Encode([]healthResource{
				{Source: "IndexerCheck", Type: "error", Message: "All indexers are unavailable"},
				{Source: "DownloadClientCheck", Type: "warning", Message: "slow"},
			})
		case "/api/v3/queue":
			_ = json.NewEncoder(w).Encode(queuePage{TotalRecords: 0})
		default:
			http.NotFound(w, r)
		}
	}))

	_, err := client.GetQueue(context.Background())
	require.NoError(t, err)
}

func TestGetSystemStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/system/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"appName":"Sonarr","version":"4.0.0.0","startTime":"2026-08-30T11:58:00Z"}`))
	}))

	status, err := client.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sonarr", status.AppName)
	assert.Equal(t, 2026, status.StartTime.Year())
}

func TestDeleteQueueBulk(t *testing.T) {
	var gotQuery map[string][]string
	var gotBody queueBulkResource

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v3/queue/bulk", r.URL.Path)

		gotQuery = r.URL.Query()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotBody))

		w.WriteHeader(http.StatusOK)
	}))

	err := client.DeleteQueueBulk(context.Background(), []int64{7, 8}, BulkDeleteOptions{
		RemoveFromClient: true,
		Blocklist:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{7, 8}, gotBody.IDs)
	assert.Equal(t, "true", gotQuery["removeFromClient"][0])
	assert.Equal(t, "true", gotQuery["blocklist"][0])
	assert.Equal(t, "false", gotQuery["skipRedownload"][0])
	assert.Equal(t, "false", gotQuery["changeCategory"][0])
}

func TestDeleteQueueBulkNoIDs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty id set")
	}))

	require.NoError(t, client.DeleteQueueBulk(context.Background(), nil, BulkDeleteOptions{}))
}

func TestGetRetriesServerErrors(t *testing.T) {
	attempts := 0

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"appName":"Radarr"}`))
	}))

	status, err := client.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Radarr", status.AppName)
	assert.Equal(t, 3, attempts)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetSystemStatus(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
