package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowctl/internal/config"
	"flowctl/internal/pipeline"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.ServerConfig{BaseURL: srv.URL, APIKey: "test-key", Timeout: "5s"})
	require.NoError(t, err)
	return c
}

func TestRequestPostsPhaseCommand(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))

	err := c.Request(context.Background(), "cmp-1", "dns-validation", "start")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v2/campaigns/cmp-1/phases/dns-validation/start", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestRequestSurfacesRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"phase not configured"}`, http.StatusConflict)
	}))

	err := c.Request(context.Background(), "cmp-1", "generation", "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "phase not configured")
}

func TestFetchPage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/campaigns/cmp-1/phases/generation/results", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "25", r.URL.Query().Get("pageSize"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"domain":"a.example.com"},{"domain":"b.example.com"}],"total":52}`))
	}))

	p, err := c.FetchPage(context.Background(), "cmp-1", pipeline.PhaseDomainGeneration, 3, 25)
	require.NoError(t, err)
	assert.Equal(t, 52, p.Total)
	require.Len(t, p.Items, 2)
	assert.Contains(t, string(p.Items[0]), "a.example.com")
}

func TestFetchPageUnknownPhase(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unknown phase must not hit the network")
	}))

	_, err := c.FetchPage(context.Background(), "cmp-1", "warp_drive", 1, 25)
	require.ErrorIs(t, err, pipeline.ErrUnknownPhase)
}

func TestSeedModel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/campaigns/cmp-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmp-1",
			"name": "spring sweep",
			"status": "running",
			"current_phase": "dns_validation",
			"phases": [
				{"key": "domain_generation", "config_state": "valid", "exec_state": "completed"},
				{"key": "dns_validation", "config_state": "valid", "exec_state": "running"},
				{"key": "http_keyword_validation", "config_state": "missing", "exec_state": "idle"},
				{"key": "someday_phase", "config_state": "valid", "exec_state": "idle"}
			]
		}`))
	}))

	model := pipeline.NewModel()
	campaign, err := c.SeedModel(context.Background(), model, "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "spring sweep", campaign.Name)

	p, ok := model.Phase("cmp-1", pipeline.PhaseDNSValidation)
	require.True(t, ok)
	assert.Equal(t, pipeline.ConfigValid, p.ConfigState)
	assert.Equal(t, pipeline.ExecRunning, p.ExecState)

	p, _ = model.Phase("cmp-1", pipeline.PhaseDomainGeneration)
	assert.Equal(t, pipeline.ExecCompleted, p.ExecState)

	p, _ = model.Phase("cmp-1", pipeline.PhaseHTTPKeywordValidation)
	assert.Equal(t, pipeline.ConfigMissing, p.ConfigState)
	assert.Equal(t, pipeline.ExecIdle, p.ExecState)

	// Unknown phase keys from a newer backend are skipped, not fatal.
	phases := model.Snapshot("cmp-1")
	for _, ph := range phases {
		assert.NotEqual(t, pipeline.PhaseKey("someday_phase"), ph.Key)
	}
}
