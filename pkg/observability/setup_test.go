package observability_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/pkg/observability"
)

func TestSetupLoggerModes(t *testing.T) {
	t.Setenv("LOG_MODE", "")
	require.NotNil(t, observability.SetupLogger("trackserver"))

	t.Setenv("LOG_MODE", "dev")
	logger := observability.SetupLogger("trackserver")
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(-1)) // development encoder keeps debug on
}

func TestMetricsRouterEndpoints(t *testing.T) {
	srv := httptest.NewServer(observability.MetricsRouter())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	srv := httptest.NewServer(observability.MetricsRouter(
		func() error { return nil },
		func() error { return errors.New("redis unreachable") },
	))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "redis unreachable", string(body))
}
