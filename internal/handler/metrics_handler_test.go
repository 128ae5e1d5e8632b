package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(name string, required bool, err error) ReadinessProbe {
	return ReadinessProbe{Name: name, Required: required, Check: func(context.Context) (string, error) {
		return "ok", err
	}}
}

func readyBody(t *testing.T, h *MetricsHandler) (int, map[string]interface{}) {
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadyFailsOnlyForRequiredProbes(t *testing.T) {
	code, body := readyBody(t, NewMetricsHandler(nil, probe("database", true, nil), probe("cache", false, errors.New("refused"))))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "unavailable", body["checks"].(map[string]interface{})["cache"])

	code, body = readyBody(t, NewMetricsHandler(nil, probe("database", true, errors.New("refused"))))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestSnapshotWithoutMetrics(t *testing.T) {
	c, w := newGinContext(http.MethodGet, "/api/v1/system/metrics", nil)
	NewMetricsHandler(nil).Snapshot(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
