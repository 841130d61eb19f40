package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plugway/internal/api/mocks"
	"github.com/mattjoyce/plugway/internal/inspect"
	"github.com/mattjoyce/plugway/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sampleReport() *inspect.Report {
	return &inspect.Report{
		Extensions: []inspect.ExtensionRow{
			{Index: 0, Name: "reslog", Catalog: "extensions"},
			{Index: 1, Name: "redact", Catalog: "extensions"},
		},
		Bindings: []inspect.BindingRow{
			{Hook: "outgoing", Kind: "filter", Position: 0, Extension: "reslog", Unit: "reslog/main"},
			{Hook: "outgoing", Kind: "filter", Position: 1, Extension: "redact", Unit: "redact/main"},
		},
		Routes: []inspect.RouteRow{
			{Path: "/ping", Methods: []string{"GET", "POST"}, Owner: "reslog"},
		},
	}
}

func TestHandleHealthz(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reporter := mocks.NewMockReporter(ctrl)
	reporter.EXPECT().Report().Return(sampleReport(), nil)

	s := New(Config{Key: "k"}, reporter, nil, discardLogger())
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.ExtensionsLoaded)
	assert.Equal(t, 2, resp.HookBindings)
	assert.Equal(t, 1, resp.Routes)
}

func TestAuth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reporter := mocks.NewMockReporter(ctrl)
	reporter.EXPECT().Report().Return(sampleReport(), nil).AnyTimes()

	s := New(Config{Key: "secret"}, reporter, nil, discardLogger())
	router := s.setupRoutes()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/extensions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_NoKeyConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := New(Config{}, mocks.NewMockReporter(ctrl), nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/report", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHooks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reporter := mocks.NewMockReporter(ctrl)
	reporter.EXPECT().Report().Return(sampleReport(), nil)

	s := New(Config{Key: "k"}, reporter, nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/hooks", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var bindings []inspect.BindingRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bindings))
	require.Len(t, bindings, 2)
	assert.Equal(t, "reslog/main", bindings[0].Unit)
	assert.Equal(t, 1, bindings[1].Position)
}

func TestHandleReport_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reporter := mocks.NewMockReporter(ctrl)
	reporter.EXPECT().Report().Return(nil, errors.New("route conflict"))

	s := New(Config{Key: "k"}, reporter, nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/report", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := mocks.NewMockAuditReader(ctrl)
	audit.EXPECT().Recent(gomock.Any(), 5).Return([]storage.AuditRecord{
		{Token: "tok-1", Endpoint: "query", Status: 200, StartedAt: now, CompletedAt: now},
	}, nil)

	s := New(Config{Key: "k"}, mocks.NewMockReporter(ctrl), audit, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=5", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var records []storage.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "tok-1", records[0].Token)
}

func TestHandleAudit_BadLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	audit := mocks.NewMockAuditReader(ctrl)
	s := New(Config{Key: "k"}, mocks.NewMockReporter(ctrl), audit, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAudit_NotAvailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := New(Config{Key: "k"}, mocks.NewMockReporter(ctrl), nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
