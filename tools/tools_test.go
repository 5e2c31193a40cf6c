package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/resilience"
	"github.com/itsneelabh/bloxgate/upstream"
)

// upstreamDouble records every request and serves scripted responses.
type upstreamDouble struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

func (u *upstreamDouble) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	_ = json.NewDecoder(r.Body).Decode(&rec.Body)

	u.mu.Lock()
	u.requests = append(u.requests, rec)
	u.mu.Unlock()

	u.handler(w, r)
}

func (u *upstreamDouble) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *upstreamDouble) last() recordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[len(u.requests)-1]
}

type harness struct {
	registry *registry.Registry
	breakers *resilience.BreakerGroup
	cache    *resilience.MemoryCache
	upstream *upstreamDouble
}

func okResults(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"results":[{"id":"obj-1"}]}`))
}

func newHarness(t *testing.T, handler http.HandlerFunc, retry resilience.RetryConfig, breakerReset time.Duration) *harness {
	t.Helper()

	double := &upstreamDouble{handler: handler}
	srv := httptest.NewServer(double)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(core.UpstreamConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}, nil)

	breakers := resilience.NewBreakerGroup(5, breakerReset, nil)
	cache := resilience.NewMemoryCache(100)
	pipeline := resilience.NewPipeline(breakers, cache, retry, 5*time.Second, nil, nil)

	reg := registry.NewRegistry(nil)
	require.NoError(t, RegisterAll(reg, &Deps{
		Client:     client,
		Pipeline:   pipeline,
		DefaultTTL: 5 * time.Minute,
	}))

	return &harness{registry: reg, breakers: breakers, cache: cache, upstream: double}
}

func singleAttempt() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestRegisterAllCatalog(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	assert.Greater(t, h.registry.Count(), 80, "full catalog registered")
	for _, name := range []string{
		"list_ip_spaces", "create_subnet", "allocate_next_ip",
		"list_auth_zones", "create_a_record", "create_cname_record",
		"list_dhcp_hosts", "list_federated_realms", "next_available_federated_block",
		"configure_vpn_infrastructure", "list_security_policies",
		"list_insights", "update_insight_status", "list_supported_sizes",
	} {
		_, ok := h.registry.Get(name)
		assert.True(t, ok, "missing tool %s", name)
	}
}

func TestListIPSpacesServedFromCache(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)
	args := map[string]interface{}{"limit": float64(10)}

	first, err := h.registry.Invoke(context.Background(), "list_ip_spaces", args)
	require.NoError(t, err)
	require.Equal(t, 1, h.upstream.count())

	second, err := h.registry.Invoke(context.Background(), "list_ip_spaces", args)
	require.NoError(t, err)
	assert.Equal(t, 1, h.upstream.count(), "second identical call must not reach the upstream")
	assert.JSONEq(t, string(first), string(second))

	// Same arguments spelled with defaults omitted share the entry.
	_, err = h.registry.Invoke(context.Background(), "list_ip_spaces", map[string]interface{}{"limit": float64(10), "offset": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, h.upstream.count())
}

func TestMutationsBypassCache(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ipam/subnet/s1"}`))
	}, singleAttempt(), time.Minute)

	args := map[string]interface{}{"address": "10.0.0.0/24", "space": "sp-1"}
	for i := 0; i < 2; i++ {
		_, err := h.registry.Invoke(context.Background(), "create_subnet", args)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, h.upstream.count())
	assert.Equal(t, 0, h.cache.Stats().Entries)
}

func TestBreakerOpensOnRepeatedServerErrors(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}, singleAttempt(), time.Minute)

	for i := 0; i < 5; i++ {
		_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
		require.Error(t, err)
		var srv *upstream.ServerError
		assert.ErrorAs(t, err, &srv)
	}
	require.Equal(t, 5, h.upstream.count())

	// Sixth call is rejected at the breaker, the upstream never sees it.
	_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.Equal(t, 5, h.upstream.count())
}

func TestBreakerIsolationAcrossServices(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ddi/v1/dns/auth_zone" {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		okResults(w, r)
	}, singleAttempt(), time.Minute)

	for i := 0; i < 5; i++ {
		_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
		require.Error(t, err)
	}
	_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)

	// An atcfw tool still works while the ddi breaker is open.
	_, err = h.registry.Invoke(context.Background(), "list_security_policies", nil)
	assert.NoError(t, err)
}

func TestBreakerRecoversAfterReset(t *testing.T) {
	var failing = true
	var mu sync.Mutex
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		down := failing
		mu.Unlock()
		if down {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		okResults(w, r)
	}, singleAttempt(), 30*time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
		require.Error(t, err)
	}
	require.Equal(t, "open", h.breakers.Get(upstream.ServiceDDI).Stats().State)

	mu.Lock()
	failing = false
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	// First call after the reset timeout is the half-open probe; its success
	// closes the breaker.
	_, err := h.registry.Invoke(context.Background(), "list_auth_zones", nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", h.breakers.Get(upstream.ServiceDDI).Stats().State)
}

func TestRateLimitedCallRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		okResults(w, r)
	}, resilience.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, time.Minute)

	_, err := h.registry.Invoke(context.Background(), "list_subnets", map[string]interface{}{"limit": float64(50)})
	require.NoError(t, err)
	assert.Equal(t, 3, h.upstream.count())
}

func TestSchemaViolationNeverReachesUpstream(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "create_a_record", map[string]interface{}{"name": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
	assert.Equal(t, 0, h.upstream.count(), "invalid arguments must fail before any upstream request")
}

func TestCreateARecordBody(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"dns/record/r1"}`))
	}, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "create_a_record", map[string]interface{}{
		"name_in_zone": "web",
		"zone":         "dns/auth_zone/z1",
		"address":      "192.0.2.10",
	})
	require.NoError(t, err)

	req := h.upstream.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/ddi/v1/dns/record", req.Path)
	assert.Equal(t, "A", req.Body["type"])
	assert.Equal(t, map[string]interface{}{"address": "192.0.2.10"}, req.Body["rdata"])
	_, hasAddress := req.Body["address"]
	assert.False(t, hasAddress, "address moves into rdata")
}

func TestListQueryParametersForwarded(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "list_subnets", map[string]interface{}{
		"filter": `address=="10.0.0.0"`,
		"limit":  float64(25),
		"offset": float64(50),
	})
	require.NoError(t, err)

	req := h.upstream.last()
	assert.Equal(t, "/api/ddi/v1/ipam/subnet", req.Path)
	assert.Contains(t, req.Query, "_limit=25")
	assert.Contains(t, req.Query, "_offset=50")
	assert.Contains(t, req.Query, "_filter=")
}

func TestDeleteNormalizesEmptyResponse(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}, singleAttempt(), time.Minute)

	data, err := h.registry.Invoke(context.Background(), "delete_subnet", map[string]interface{}{"id": "sub-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true}`, string(data))
	assert.Equal(t, "/api/ddi/v1/ipam/subnet/sub-1", h.upstream.last().Path)
}

func TestFullIDPassedVerbatim(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "get_subnet", map[string]interface{}{"id": "ipam/subnet/abc123"})
	require.NoError(t, err)
	assert.Equal(t, "/api/ddi/v1/ipam/subnet/abc123", h.upstream.last().Path)
}

func TestConfigureVPNRejectsPartialDeployment(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "configure_vpn_infrastructure", map[string]interface{}{
		"universal_service": map[string]interface{}{"name": "branch-vpn"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
	assert.Equal(t, 0, h.upstream.count())
}

func TestConfigureVPNRetriesConflicts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, `{"error":"previous deployment in progress"}`, http.StatusConflict)
			return
		}
		w.Write([]byte(`{"result":{"id":"us-1"}}`))
	}, resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, time.Minute)

	_, err := h.registry.Invoke(context.Background(), "configure_vpn_infrastructure", map[string]interface{}{
		"universal_service": map[string]interface{}{"name": "branch-vpn"},
		"endpoints":         map[string]interface{}{"create": []interface{}{map[string]interface{}{"name": "ep-1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.upstream.count(), "409 retried for consolidated configure")
	assert.Equal(t, "/api/universalinfra/v1/consolidated/configure", h.upstream.last().Path)
}

func TestDeleteVPNServiceRequiresConfirm(t *testing.T) {
	h := newHarness(t, okResults, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "delete_vpn_service", map[string]interface{}{"service_id": "us-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
	assert.Equal(t, 0, h.upstream.count())

	_, err = h.registry.Invoke(context.Background(), "delete_vpn_service", map[string]interface{}{
		"service_id": "us-1",
		"confirm":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.upstream.count())
}

func TestCancelledCallLeavesStateUntouched(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, singleAttempt(), time.Minute)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := h.registry.Invoke(ctx, "list_ip_spaces", map[string]interface{}{"limit": float64(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrCanceled)

	assert.Equal(t, 0, h.cache.Stats().Entries, "cancelled call must not populate the cache")
	assert.Equal(t, int64(0), h.breakers.Get(upstream.ServiceDDI).ConsecutiveFailures(),
		"cancelled call must not advance the breaker")
}

func TestGetVPNEndpointCNAMEs(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"id":"ep-1","name":"east","cname":"east.example.net","service_location":"aws-us-east-1","size":"S"},
			{"id":"ep-2","name":"west","cname":"west.example.net","service_location":"aws-us-west-2","size":"M"}
		]}`))
	}, singleAttempt(), time.Minute)

	data, err := h.registry.Invoke(context.Background(), "get_vpn_endpoint_cnames", map[string]interface{}{"service_id": "us-1"})
	require.NoError(t, err)

	var doc struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "east.example.net", doc.Results[0]["cname"])
	_, hasSize := doc.Results[0]["size"]
	assert.False(t, hasSize, "reduced to the CNAME projection")

	req := h.upstream.last()
	assert.Equal(t, "/api/universalinfra/v1/endpoints", req.Path)
	assert.Contains(t, req.Query, "_filter=")
}

func TestUpdateInsightStatus(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"updated":1}`))
	}, singleAttempt(), time.Minute)

	_, err := h.registry.Invoke(context.Background(), "update_insight_status", map[string]interface{}{
		"insight_ids": []interface{}{"ins-1"},
		"status":      "RESOLVED",
		"comment":     "patched",
	})
	require.NoError(t, err)

	req := h.upstream.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/insights/v1/insights/status", req.Path)
	assert.Equal(t, "RESOLVED", req.Body["status"])
}
