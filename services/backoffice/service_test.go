// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backoffice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigLayering verifies file values override defaults and env
// values override the file.
func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backoffice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9090\"\nhead_coach: anna\nshutdown_grace_seconds: 5\n"), 0644))

	t.Setenv("SMARTALK_HEAD_COACH", "JJ")
	t.Setenv("SMARTALK_IN_MEMORY", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "JJ", cfg.HeadCoach)
	assert.True(t, cfg.InMemory)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace())
}

// TestLoadConfigMissingFile verifies a missing file falls back to
// defaults instead of failing.
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "JJ", cfg.HeadCoach)
}

// TestServiceEndToEnd wires the full service in memory and exercises a
// request plus the metrics scrape.
func TestServiceEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.LogLevel = "error"

	reg := prometheus.NewRegistry()
	svc, err := NewService(cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router := svc.Router()

	body, err := json.Marshal(map[string]any{
		"student_id":     "student-1",
		"client_id":      "client-1",
		"product_id":     "product-1",
		"total_calls":    4,
		"calls_per_week": 1,
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/contracts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smartalk_ledger_contracts_created_total 1")
}

// TestCloseOutCommandPath verifies the service-level close-out wrapper
// succeeds on an empty store.
func TestCloseOutCommandPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.LogLevel = "error"

	svc, err := NewService(cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	report, err := svc.CloseOut(t.Context())
	require.NoError(t, err)
	assert.Empty(t, report.SentByClient)
	assert.Zero(t, report.GeneratorsRolled)
	assert.Zero(t, report.GeneratorsDeleted)
}
