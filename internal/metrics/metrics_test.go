package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	r := New()
	r.BlockCacheHits.Inc()
	r.ActiveTxns.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "otbx_block_cache_hits_total 1")
	require.Contains(t, body, "otbx_active_transactions 3")
}

func TestNewRegistryIsIsolatedPerInstance(t *testing.T) {
	a := New()
	b := New()
	a.CheckpointsTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	require.NotContains(t, rec.Body.String(), "otbx_checkpoints_total 1")
}
