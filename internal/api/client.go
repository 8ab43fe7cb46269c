// Package api holds the thin adapters between the pipeline engine and the
// outside world: the REST command/fetch client and the event sources that
// feed the reconciliation engine. The generated client surface of the
// backend is out of scope; these adapters speak only the narrow contracts
// the engine consumes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"flowctl/internal/config"
	"flowctl/internal/dispatch"
	"flowctl/internal/logging"
	"flowctl/internal/pager"
	"flowctl/internal/pipeline"
)

// Client is the REST adapter implementing the command and data-fetch
// collaborator contracts.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient builds a client from server configuration.
func NewClient(cfg config.ServerConfig) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		base:   cfg.BaseURL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.TimeoutDuration()},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Request implements dispatch.Commander: it asks the backend to start or
// stop a phase and reports only acceptance, never completion.
func (c *Client) Request(ctx context.Context, campaignID, phaseIdent, action string) error {
	path := fmt.Sprintf("/api/v2/campaigns/%s/phases/%s/%s",
		url.PathEscape(campaignID), url.PathEscape(phaseIdent), url.PathEscape(action))
	logging.APIDebug("POST %s", path)
	return c.do(ctx, http.MethodPost, path, nil)
}

// FetchPage implements pager.Fetcher.
func (c *Client) FetchPage(ctx context.Context, campaignID string, phase pipeline.PhaseKey, page, pageSize int) (pager.Page, error) {
	ident, err := dispatch.ServerIdent(phase)
	if err != nil {
		return pager.Page{}, err
	}
	path := fmt.Sprintf("/api/v2/campaigns/%s/phases/%s/results?page=%d&pageSize=%d",
		url.PathEscape(campaignID), url.PathEscape(ident), page, pageSize)
	logging.APIDebug("GET %s", path)
	var p pager.Page
	if err := c.do(ctx, http.MethodGet, path, &p); err != nil {
		return pager.Page{}, err
	}
	return p, nil
}

// campaignDetail is the backend's campaign document, carrying the phase
// table alongside the coarse projection.
type campaignDetail struct {
	pipeline.Campaign
	Phases []struct {
		Key         pipeline.PhaseKey    `json:"key"`
		ConfigState pipeline.ConfigState `json:"config_state"`
		ExecState   pipeline.ExecState   `json:"exec_state"`
	} `json:"phases"`
}

// SeedModel fetches a campaign and primes the phase state model with the
// backend's view of configuration readiness and execution status.
func (c *Client) SeedModel(ctx context.Context, model *pipeline.Model, campaignID string) (pipeline.Campaign, error) {
	var detail campaignDetail
	path := "/api/v2/campaigns/" + url.PathEscape(campaignID)
	if err := c.do(ctx, http.MethodGet, path, &detail); err != nil {
		return pipeline.Campaign{}, fmt.Errorf("fetch campaign %s: %w", campaignID, err)
	}
	model.Track(detail.Campaign)
	for _, p := range detail.Phases {
		if !pipeline.KnownPhase(p.Key) {
			continue
		}
		if err := model.SetConfigState(campaignID, p.Key, p.ConfigState); err != nil {
			return pipeline.Campaign{}, err
		}
		if p.ExecState != "" && p.ExecState != pipeline.ExecIdle {
			if err := model.SetExecState(campaignID, p.Key, p.ExecState); err != nil {
				return pipeline.Campaign{}, err
			}
		}
	}
	logging.API("campaign %s seeded (%d phases)", campaignID, len(detail.Phases))
	return detail.Campaign, nil
}
