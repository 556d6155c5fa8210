// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/debriefs"
	"github.com/smartalk-online/backoffice/services/backoffice/ledger"
	"github.com/smartalk-online/backoffice/services/backoffice/reportcards"
	"github.com/smartalk-online/backoffice/services/backoffice/storage/badgerstore"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cycle := reportcards.NewCycle(store, "", nil)
	l := ledger.New(store, cycle, nil, nil)
	closeout := reportcards.NewCloseOut(store, "", nil, nil)
	d := debriefs.New(store, nil)

	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router.Group("/api"), NewHandlers(store, l, cycle, closeout, d, nil))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createContract(t *testing.T, router *gin.Engine, body map[string]any) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/contracts", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp CreateContractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ContractID)
	return resp.ContractID
}

// TestHealthEndpoint verifies the liveness probe.
func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ServiceVersion)
}

// TestCreateContractAndLogCalls drives the happy path end to end through
// the HTTP surface.
func TestCreateContractAndLogCalls(t *testing.T) {
	router := newTestRouter(t)

	contractID := createContract(t, router, map[string]any{
		"student_id":     "student-1",
		"client_id":      "client-1",
		"product_id":     "product-1",
		"total_calls":    10,
		"calls_per_week": 2,
	})

	w := doJSON(t, router, http.MethodPost, "/api/calls", map[string]any{
		"calls": []map[string]any{{
			"contract_id": contractID,
			"coach_id":    "coach-1",
			"student_id":  "student-1",
			"date":        "2025-02-10",
			"units":       1.5,
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LogCallsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Logged)

	w = doJSON(t, router, http.MethodGet, "/api/students/student-1/contracts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Contracts []datatypes.Contract `json:"contracts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Contracts, 1)
	assert.Equal(t, 8.5, listing.Contracts[0].LeftCalls)
	assert.Equal(t, datatypes.Date("2025-02-10"), listing.Contracts[0].StartDate)

	w = doJSON(t, router, http.MethodGet, "/api/contracts/"+contractID+"/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions struct {
		Sessions []datatypes.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, 1.5, sessions.Sessions[0].Units)
}

// TestLogCallsValidation verifies the boundary validation and the group
// gate map to the right statuses.
func TestLogCallsValidation(t *testing.T) {
	router := newTestRouter(t)

	// Malformed body: missing units.
	w := doJSON(t, router, http.MethodPost, "/api/calls", map[string]any{
		"calls": []map[string]any{{
			"contract_id": "contract-x",
			"coach_id":    "coach-1",
			"student_id":  "student-1",
			"date":        "2025-02-10",
		}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown contract.
	w = doJSON(t, router, http.MethodPost, "/api/calls", map[string]any{
		"calls": []map[string]any{{
			"contract_id": "contract-x",
			"coach_id":    "coach-1",
			"student_id":  "student-1",
			"date":        "2025-02-10",
			"units":       1,
		}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Over-balance group is rejected whole.
	contractID := createContract(t, router, map[string]any{
		"student_id":     "student-1",
		"client_id":      "client-1",
		"product_id":     "product-1",
		"total_calls":    1,
		"calls_per_week": 1,
	})
	w = doJSON(t, router, http.MethodPost, "/api/calls", map[string]any{
		"calls": []map[string]any{{
			"contract_id": contractID,
			"coach_id":    "coach-1",
			"student_id":  "student-1",
			"date":        "2025-02-10",
			"units":       2,
		}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

// TestDuplicateCallConflicts verifies a replayed call maps to 409.
func TestDuplicateCallConflicts(t *testing.T) {
	router := newTestRouter(t)
	contractID := createContract(t, router, map[string]any{
		"student_id":     "student-1",
		"client_id":      "client-1",
		"product_id":     "product-1",
		"total_calls":    10,
		"calls_per_week": 2,
	})

	call := map[string]any{
		"calls": []map[string]any{{
			"contract_id": contractID,
			"coach_id":    "coach-1",
			"student_id":  "student-1",
			"date":        "2025-02-10",
			"units":       1,
		}},
	}
	w := doJSON(t, router, http.MethodPost, "/api/calls", call)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/calls", call)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "TRANSACTION_ABORTED")
}

// TestReportCardLifecycleOverHTTP walks draft -> complete -> restore and
// then the close-out endpoint.
func TestReportCardLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	createContract(t, router, map[string]any{
		"student_id":                   "student-1",
		"client_id":                    "client-1",
		"product_id":                   "product-1",
		"unlimited":                    true,
		"report_card_cadency":          3,
		"report_card_start_month":      "2025-01",
		"report_card_email_recipients": "hr@client.example",
	})

	generatorID := datatypes.GeneratorID("student-1", "client-1", 3)
	placeholderID := datatypes.ReportCardID(reportcards.DefaultHeadCoach, generatorID)

	w := doJSON(t, router, http.MethodPost, "/api/report-cards/complete", map[string]any{
		"report_card_id": placeholderID,
		"start_month":    "2025-01",
		"coach_id":       reportcards.DefaultHeadCoach,
		"from_status":    "no_show",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/api/report-cards/restore", map[string]any{
		"report_card_id": placeholderID,
		"start_month":    "2025-01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Restored without attendance, so editing as draft still fails.
	w = doJSON(t, router, http.MethodPost, "/api/report-cards/draft", map[string]any{
		"report_card_id": placeholderID,
		"start_month":    "2025-01",
		"coach_id":       reportcards.DefaultHeadCoach,
		"report":         "nothing to report",
		"attendance":     "0/0",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestCloseOutEndpointGuards verifies an unfinished expired card surfaces
// as a consistency error over HTTP.
func TestCloseOutEndpointGuards(t *testing.T) {
	router := newTestRouter(t)
	createContract(t, router, map[string]any{
		"student_id":                   "student-1",
		"client_id":                    "client-1",
		"product_id":                   "product-1",
		"unlimited":                    true,
		"report_card_cadency":          1,
		"report_card_start_month":      "2020-01",
		"report_card_email_recipients": "hr@client.example",
	})

	// The seeded 2020-01 no_show expired long ago and was never handled.
	w := doJSON(t, router, http.MethodPost, "/api/closeout", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "CONSISTENCY_ERROR")
}

// TestDebriefEndpoints verifies create and list round trip.
func TestDebriefEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/debriefs", map[string]any{
		"student_id": "student-1",
		"coach_id":   "coach-1",
		"date":       "2025-03-01",
		"goals":      "fluency",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Same day again is idempotent.
	w = doJSON(t, router, http.MethodPost, "/api/debriefs", map[string]any{
		"student_id": "student-1",
		"coach_id":   "coach-1",
		"date":       "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	path := fmt.Sprintf("/api/debriefs/%s/%s", "student-1", "coach-1")
	w = doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Debriefs []datatypes.Debrief `json:"debriefs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Debriefs, 1)
	assert.Equal(t, "fluency", listing.Debriefs[0].Goals)
}
