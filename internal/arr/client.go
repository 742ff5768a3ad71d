// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr talks to a Sonarr or Radarr v3 API. Both managers expose the
// same queue surface, so one client covers either.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/arrmate/arrmate/internal/buildinfo"
	"github.com/arrmate/arrmate/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client is a minimal Sonarr/Radarr v3 API client.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client for one manager. The name is only used in logs
// and error messages ("sonarr" or "radarr").
func NewClient(name string, cfg domain.ArrConfig) *Client {
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Name returns the manager label this client was built with.
func (c *Client) Name() string {
	return c.name
}

// GetSystemStatus fetches /api/v3/system/status.
func (c *Client) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.get(ctx, "/api/v3/system/status", nil, &status); err != nil {
		return nil, errors.Wrapf(err, "%s: could not retrieve system status", c.name)
	}
	return &status, nil
}

// GetQueue returns the complete manager queue. The queue endpoint is paged,
// so the size is discovered with a pageSize=0 probe first and the full page
// fetched second. A failing download-client health check aborts the fetch:
// a manager that cannot reach its download client reports a queue we must
// not act on.
func (c *Client) GetQueue(ctx context.Context) ([]QueueRecord, error) {
	var health []healthResource
	if err := c.get(ctx, "/api/v3/health", nil, &health); err != nil {
		return nil, errors.Wrapf(err, "%s: could not retrieve health", c.name)
	}
	for _, resource := range health {
		if resource.Type == "error" && resource.Source == "DownloadClientCheck" {
			return nil, errors.Errorf("%s: health check failed for download client: %s", c.name, resource.Message)
		}
	}

	var probe queuePage
	if err := c.get(ctx, "/api/v3/queue", url.Values{"pageSize": {"0"}}, &probe); err != nil {
		return nil, errors.Wrapf(err, "%s: could not probe queue size", c.name)
	}
	if probe.TotalRecords == 0 {
		return nil, nil
	}

	var page queuePage
	params := url.Values{"pageSize": {strconv.Itoa(probe.TotalRecords)}}
	if err := c.get(ctx, "/api/v3/queue", params, &page); err != nil {
		return nil, errors.Wrapf(err, "%s: could not retrieve queue", c.name)
	}
	return page.Records, nil
}

// DeleteQueueBulk removes queue entries by id with the given flags in a
// single call.
func (c *Client) DeleteQueueBulk(ctx context.Context, ids []int64, opts BulkDeleteOptions) error {
	if len(ids) == 0 {
		return nil
	}

	params := url.Values{
		"removeFromClient": {strconv.FormatBool(opts.RemoveFromClient)},
		"blocklist":        {strconv.FormatBool(opts.Blocklist)},
		"skipRedownload":   {strconv.FormatBool(opts.SkipRedownload)},
		"changeCategory":   {strconv.FormatBool(opts.ChangeCategory)},
	}

	body, err := json.Marshal(queueBulkResource{IDs: ids})
	if err != nil {
		return errors.Wrap(err, "marshal bulk delete body")
	}

	u := c.baseURL + "/api/v3/queue/bulk?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create bulk delete request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: bulk delete failed", c.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.Errorf("%s: bulk delete returned %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	log.Debug().Str("manager", c.name).Int("count", len(ids)).Bool("blocklist", opts.Blocklist).Msg("Deleted queue entries")
	return nil
}

// get performs an authenticated GET and decodes the JSON response. Transient
// failures (network errors, 5xx) are retried a few times before surfacing.
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			c.setHeaders(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return errors.Errorf("%s API error %d", c.name, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(resp.Body)
				return retry.Unrecoverable(errors.Errorf("%s API error %d: %s", c.name, resp.StatusCode, string(respBody)))
			}

			if result != nil {
				if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
					return retry.Unrecoverable(errors.Wrap(err, "decode response"))
				}
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
}
