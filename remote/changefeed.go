package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/sirupsen/logrus"
)

// Change is one row-change feed entry. The feed is the slow fallback
// path; it trades latency for completeness.
type Change struct {
	Table     string `json:"table"`
	EntityId  string `json:"entity_id"`
	UpdatedAt string `json:"updated_at"`
}

type changeListResponse struct {
	Data       []Change `json:"data"`
	NextCursor string   `json:"next_cursor"`
	HasMore    *bool    `json:"has_more"`
}

// Changes reads one page of the row-change feed.
func (c *Client) Changes(ctx context.Context, scopeId string, updatedSince string, cursor string) ([]Change, string, error) {
	params := url.Values{}
	params.Set("scope_id", scopeId)
	params.Set("table", "sales")
	if updatedSince != "" {
		params.Set("updated_since", updatedSince)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	params.Set("limit", "200")

	body, err := c.do(ctx, http.MethodGet, "/v1/changes", params, nil)
	if err != nil {
		return nil, cursor, err
	}
	var parsed changeListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, cursor, err
	}
	return parsed.Data, parsed.NextCursor, nil
}

// FeedPoller drives the row-change feed on a fixed interval and hands
// each entry to OnChange. Cursor state lives in memory; a restart
// re-reads from the configured lookback, which is safe because the
// coordinator deduplicates refetch triggers anyway.
type FeedPoller struct {
	Client   *Client
	Logger   *logrus.Logger
	ScopeId  string
	Interval time.Duration
	Lookback time.Duration
	OnChange func(Change)

	updatedSince string
	cursor       string
}

func NewFeedPoller(client *Client, logger *logrus.Logger, scopeId string, onChange func(Change)) *FeedPoller {
	return &FeedPoller{
		Client:   client,
		Logger:   logger,
		ScopeId:  scopeId,
		Interval: 5 * time.Second,
		Lookback: 24 * time.Hour,
		OnChange: onChange,
	}
}

func (p *FeedPoller) Run(ctx context.Context) {
	if p.updatedSince == "" {
		p.updatedSince = time.Now().Add(-p.Lookback).UTC().Format(time.RFC3339)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
		p.pollOnce(ctx)
	}
}

func (p *FeedPoller) pollOnce(ctx context.Context) {
	for {
		changes, nextCursor, err := p.Client.Changes(ctx, p.ScopeId, p.updatedSince, p.cursor)
		if err != nil {
			if !IsTransient(err) {
				config.LogError(p.Logger, "changefeed.go", "pollOnce", "Changes", p.cursor, err)
			}
			return
		}
		for _, ch := range changes {
			p.OnChange(ch)
			if ch.UpdatedAt != "" {
				p.updatedSince = ch.UpdatedAt
			}
		}
		if nextCursor == "" {
			p.cursor = ""
			return
		}
		p.cursor = nextCursor
	}
}
