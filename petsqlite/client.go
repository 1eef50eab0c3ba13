// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jkidune/go-petsync/petsync"
)

// Client drives synchronization of the local change log against the
// reconciliation service.
type Client struct {
	Log     *ChangeLog
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	config  *Config
	logger  *slog.Logger

	group     singleflight.Group
	triggered int32 // coalesces connectivity-triggered attempts
}

// Config holds configuration for the sync client
type Config struct {
	RequestTimeout time.Duration // Bound on the reconcile network call
	BackoffMin     time.Duration // e.g. 1s
	BackoffMax     time.Duration // e.g. 60s
}

// DefaultConfig returns a default sync client configuration.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 30 * time.Second,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
	}
}

// Conflict surfaces one rejected entry for manual resolution. The entry stays
// pending in the change log; resolution (overwrite, discard, merge) is an
// external decision this core only reports.
type Conflict struct {
	LocalID    string          `json:"localId"`
	EntityType string          `json:"entityType"`
	Existing   json.RawMessage `json:"existing"` // Server's current record; null when none exists
	Attempted  json.RawMessage `json:"attempted"`
	Reason     string          `json:"reason,omitempty"`
}

// SyncResult reports the outcome of one sync attempt.
type SyncResult struct {
	Accepted   int        `json:"accepted"`
	Conflicted int        `json:"conflicted"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
}

// NewClient creates a sync client over an initialized change log.
func NewClient(log *ChangeLog, baseURL string, tok func(ctx context.Context) (string, error), config *Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("change log cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		Log:     log,
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{Timeout: config.RequestTimeout},
		config:  config,
		logger:  slog.Default(),
	}, nil
}

// SyncNow synchronizes all pending entries in one reconcile request.
//
// Calls are single-flight: a SyncNow invoked while another is awaiting the
// network response does not issue a second request; it shares the in-flight
// call's eventual result.
//
// On transport failure nothing is marked synced and nothing is pruned; the
// change log is unchanged and the same batch is reattempted on the next call.
func (c *Client) SyncNow(ctx context.Context) (*SyncResult, error) {
	v, err, _ := c.group.Do("sync", func() (any, error) {
		return c.syncOnce(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SyncResult), nil
}

func (c *Client) syncOnce(ctx context.Context) (*SyncResult, error) {
	entries, err := c.Log.PendingEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		// Nothing pending: no network call is made.
		return &SyncResult{}, nil
	}

	response, err := c.sendReconcileRequest(ctx, entries)
	if err != nil {
		return nil, err
	}

	result, err := c.applyVerdicts(ctx, entries, response)
	if err != nil {
		return nil, err
	}

	if err := c.Log.PruneSynced(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("Sync attempt finished",
		"uploaded", len(entries), "accepted", result.Accepted, "conflicted", result.Conflicted)
	return result, nil
}

// sendReconcileRequest submits the ordered batch in a single request.
func (c *Client) sendReconcileRequest(ctx context.Context, entries []ChangeEntry) (*petsync.ReconcileResponse, error) {
	changes := make([]petsync.Change, len(entries))
	for i, e := range entries {
		changes[i] = petsync.Change{
			LocalID:         e.LocalID,
			Op:              e.Op,
			EntityType:      e.EntityType,
			EntityID:        e.EntityID,
			Payload:         e.Payload,
			ClientTimestamp: e.ClientTimestamp,
		}
	}

	body, err := json.Marshal(&petsync.ReconcileRequest{Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reconcile request: %w", err)
	}

	resp, err := c.post(ctx, c.BaseURL+"/sync/reconcile", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d", ErrSyncTransport, resp.StatusCode)
	}

	var reconcileResp petsync.ReconcileResponse
	if err := json.NewDecoder(resp.Body).Decode(&reconcileResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode reconcile response: %v", ErrSyncTransport, err)
	}
	return &reconcileResp, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncTransport, err)
	}
	return resp, nil
}

// applyVerdicts retires accepted entries and collects conflicts. Conflicted
// entries stay pending; they are never retried automatically.
func (c *Client) applyVerdicts(ctx context.Context, entries []ChangeEntry, response *petsync.ReconcileResponse) (*SyncResult, error) {
	byLocalID := make(map[string]*ChangeEntry, len(entries))
	for i := range entries {
		byLocalID[entries[i].LocalID] = &entries[i]
	}

	result := &SyncResult{}
	for _, synced := range response.Synced {
		if _, ok := byLocalID[synced.LocalID]; !ok {
			c.logger.Warn("Server acknowledged unknown entry", "local_id", synced.LocalID)
			continue
		}
		if err := c.Log.MarkSynced(ctx, synced.LocalID); err != nil {
			return nil, err
		}
		result.Accepted++
	}

	for _, conflict := range response.Conflicts {
		entry, ok := byLocalID[conflict.LocalID]
		if !ok {
			c.logger.Warn("Server reported conflict for unknown entry", "local_id", conflict.LocalID)
			continue
		}
		result.Conflicted++
		result.Conflicts = append(result.Conflicts, Conflict{
			LocalID:    conflict.LocalID,
			EntityType: entry.EntityType,
			Existing:   conflict.Existing,
			Attempted:  conflict.Incoming,
			Reason:     conflict.Reason,
		})
		c.logger.Warn("Change conflicted; awaiting manual resolution",
			"local_id", conflict.LocalID, "entity_type", entry.EntityType, "reason", conflict.Reason)
	}

	return result, nil
}

// WatchConnectivity subscribes the client to a monitor so that regaining
// connectivity triggers a best-effort background sync attempt. Returns the
// unsubscribe function.
func (c *Client) WatchConnectivity(ctx context.Context, m *Monitor) (unsubscribe func()) {
	return m.Subscribe(func(online bool) {
		if !online {
			return
		}
		c.TriggerSync(ctx)
	})
}

// TriggerSync starts a background sync attempt unless one triggered earlier is
// still in flight; overlapping triggers coalesce into that attempt.
func (c *Client) TriggerSync(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.triggered, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&c.triggered, 0)
		if _, err := c.SyncNow(ctx); err != nil {
			c.logger.Warn("Automatic sync attempt failed", "error", err)
		}
	}()
}

// Start runs a background loop that retries pending entries with exponential
// backoff while the monitor reports the network reachable. Context
// cancellation stops the loop.
func (c *Client) Start(ctx context.Context, m *Monitor) {
	go c.syncLoop(ctx, m)
}

func (c *Client) syncLoop(ctx context.Context, m *Monitor) {
	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if !m.Online() {
			continue
		}
		pending, err := c.Log.PendingCount(ctx)
		if err != nil || pending == 0 {
			backoff = c.config.BackoffMin
			continue
		}

		if _, err := c.SyncNow(ctx); err != nil {
			backoff = backoff * 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
		} else {
			backoff = c.config.BackoffMin
		}
	}
}
