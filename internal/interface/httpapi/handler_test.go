package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"turnaround-service/internal/domain/entity"
	syncbackend "turnaround-service/internal/interface/sync"
	"turnaround-service/internal/usecase"
	"turnaround-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "control-secret"

type rulesetFixture map[string]*entity.RuleSet

func (f rulesetFixture) GetByAirline(_ context.Context, code string) (*entity.RuleSet, error) {
	rules, ok := f[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownAirline, code)
	}
	return rules, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.NewNop()
	backend := syncbackend.NewMemoryBackend()
	adapter := usecase.NewSyncAdapter(backend, log, nil, time.Second, time.Millisecond, 10*time.Millisecond)
	registry := usecase.NewObserverRegistry(log, nil, 16)
	t.Cleanup(registry.Close)

	rules := rulesetFixture{"QR": {
		Airline:  "QR",
		Required: []string{"doors-open", "boarding-ready"},
		Prerequisites: map[string][]string{
			"boarding-ready": {"doors-open"},
		},
	}}
	coordinator := usecase.NewCoordinator(rules, nil, nil, adapter, registry, log, nil)

	mux := http.NewServeMux()
	NewHandler(coordinator, registry, testToken, log).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postCommand(t *testing.T, server *httptest.Server, token string, body map[string]any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/commands", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-Actor", "ops-control")
	if token != "" {
		req.Header.Set("X-Control-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCommandRequiresControlCapability(t *testing.T) {
	server := newTestServer(t)
	resp := postCommand(t, server, "", map[string]any{
		"command":   "register_flight",
		"flightKey": "QR:117:2026-08-23",
		"airline":   "QR",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCommandLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp := postCommand(t, server, testToken, map[string]any{
		"command":   "register_flight",
		"flightKey": "QR:117:2026-08-23",
		"airline":   "QR",
		"schedule": map[string]any{
			"scheduledArrival":   "2026-08-23T09:40:00Z",
			"scheduledDeparture": "2026-08-23T10:55:00Z",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap entity.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.Revision)

	// Duplicate registration conflicts.
	resp = postCommand(t, server, testToken, map[string]any{
		"command":   "register_flight",
		"flightKey": "QR:117:2026-08-23",
		"airline":   "QR",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Prerequisite violation is a semantic rejection.
	resp = postCommand(t, server, testToken, map[string]any{
		"command":   "set_milestone",
		"flightKey": "QR:117:2026-08-23",
		"milestone": "boarding-ready",
		"state":     "in_progress",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postCommand(t, server, testToken, map[string]any{
		"command":   "set_milestone",
		"flightKey": "QR:117:2026-08-23",
		"milestone": "doors-open",
		"state":     "done",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Read side.
	getResp, err := http.Get(server.URL + "/turnarounds/" + "QR:117:2026-08-23")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&snap))
	assert.Equal(t, entity.StateDone, snap.Milestones["doors-open"].State)

	listResp, err := http.Get(server.URL + "/turnarounds?airline=QR")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var snaps []entity.Snapshot
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&snaps))
	assert.Len(t, snaps, 1)
}

func TestUnknownFlightIs404(t *testing.T) {
	server := newTestServer(t)
	resp := postCommand(t, server, testToken, map[string]any{
		"command":   "archive",
		"flightKey": "QR:404:2026-08-23",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	getResp, err := http.Get(server.URL + "/turnarounds/QR:404:2026-08-23")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestMalformedCommandIs400(t *testing.T) {
	server := newTestServer(t)
	for _, body := range []map[string]any{
		{"command": "register_flight", "flightKey": "not-a-key"},
		{"command": "set_milestone", "flightKey": "QR:117:2026-08-23", "state": "bogus"},
		{"command": "warp", "flightKey": "QR:117:2026-08-23"},
	} {
		resp := postCommand(t, server, testToken, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, fmt.Sprintf("body %v", body))
	}
}
