package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryFixture() *fakeHistory {
	return &fakeHistory{
		entries: []history.Entry{
			{ID: "run-2", FileName: "invoice.pdf", Mode: "base", Pages: 3, IsPDF: true},
			{ID: "run-1", FileName: "scan.png", Mode: "gundam", Pages: 1},
		},
		results: map[string]*history.Result{
			"run-1": {
				HistoryID: "run-1",
				FileName:  "scan.png",
				Mode:      "gundam",
				Text:      "recognized text",
				CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestServer_HistoryListHandler(t *testing.T) {
	server := newTestServer(&fakeGateway{}, newHistoryFixture())

	req := httptest.NewRequest("GET", "/api/history", nil)
	w := httptest.NewRecorder()

	server.historyListHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response HistoryListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Items, 2)
	assert.Equal(t, "run-2", response.Items[0].ID)
	assert.True(t, response.Items[0].IsPDF)
}

func TestServer_HistoryListHandlerEmpty(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	req := httptest.NewRequest("GET", "/api/history", nil)
	w := httptest.NewRecorder()

	server.historyListHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	// Empty history is an empty array, not null.
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestServer_HistoryGetHandler(t *testing.T) {
	server := newTestServer(&fakeGateway{}, newHistoryFixture())

	req := httptest.NewRequest("GET", "/api/history/run-1", nil)
	req.SetPathValue("id", "run-1")
	w := httptest.NewRecorder()

	server.historyGetHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result history.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "recognized text", result.Text)
	assert.Equal(t, "gundam", result.Mode)
}

func TestServer_HistoryGetHandlerNotFound(t *testing.T) {
	server := newTestServer(&fakeGateway{}, newHistoryFixture())

	req := httptest.NewRequest("GET", "/api/history/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	server.historyGetHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_HistoryDownloadHandler(t *testing.T) {
	server := newTestServer(&fakeGateway{}, newHistoryFixture())

	tests := []struct {
		name                string
		format              string
		expectedStatus      int
		expectedContentType string
	}{
		{
			name:                "markdown by default",
			format:              "",
			expectedStatus:      http.StatusOK,
			expectedContentType: "text/markdown; charset=utf-8",
		},
		{
			name:                "html on request",
			format:              "html",
			expectedStatus:      http.StatusOK,
			expectedContentType: "text/html; charset=utf-8",
		},
		{
			name:           "unknown format rejected",
			format:         "docx",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/api/history/run-1/download"
			if tt.format != "" {
				url += "?format=" + tt.format
			}
			req := httptest.NewRequest("GET", url, nil)
			req.SetPathValue("id", "run-1")
			w := httptest.NewRecorder()

			server.historyDownloadHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedContentType != "" {
				assert.Equal(t, tt.expectedContentType, w.Header().Get("Content-Type"))
				assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
			}
		})
	}
}

func TestServer_HistoryDownloadHandlerNotFound(t *testing.T) {
	server := newTestServer(&fakeGateway{}, newHistoryFixture())

	req := httptest.NewRequest("GET", "/api/history/missing/download", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	server.historyDownloadHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
