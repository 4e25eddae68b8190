package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New(func() float64 { return 3 })

	m.ObserveRequest("GET", "/api/v2/about/version", 200, 10*time.Millisecond)
	m.ObserveRequest("GET", "/api/v2/about/version", 200, 20*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)
	m.BackupTransition("client", "backup", "success")
	m.ObjectOperation("pin", nil)
	m.ObjectOperation("pin", errors.New("boom"))
	m.WorkerTask("maintenance", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v2/about/version", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backupStates.WithLabelValues("client", "backup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.objectOps.WithLabelValues("pin", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerTasksDone.WithLabelValues("maintenance", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.vaultsActive))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.BackupTransition("server", "backup", "failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `hive_backup_transitions_total{action="backup",role="server",state="failed"} 1`), body)
	assert.NotContains(t, body, "hive_vaults_active")
}
