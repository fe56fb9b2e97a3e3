package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthHandler(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{
			name:           "GET request success",
			method:         "GET",
			expectedStatus: http.StatusOK,
			checkResponse:  true,
		},
		{
			name:           "POST request not allowed",
			method:         "POST",
			expectedStatus: http.StatusMethodNotAllowed,
			checkResponse:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.checkResponse {
				var response HealthResponse
				err := json.Unmarshal(w.Body.Bytes(), &response)
				require.NoError(t, err)

				assert.Equal(t, "healthy", response.Status)
				assert.True(t, response.ModelConfigured)
				assert.Contains(t, response.Modes, "gundam")
				assert.NotEmpty(t, response.Time)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_HealthHandlerWithoutModelEndpoint(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})
	server.modelEndpoint = ""

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.healthHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.ModelConfigured)
}

func TestServer_ModesHandler(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	req := httptest.NewRequest("GET", "/api/modes", nil)
	w := httptest.NewRecorder()

	server.modesHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response ModesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Len(t, response.Modes, 5)
	assert.Contains(t, response.Modes, "gundam")
	assert.Contains(t, response.Modes, "tiny")
	assert.Equal(t, "<image>\nFree OCR.", response.DefaultPrompt)
	assert.Equal(t, 15, response.MaxImageMB)

	gundam := response.Modes["gundam"]
	assert.Equal(t, 1024, gundam.BaseSize)
	assert.True(t, gundam.CropMode)
}

func TestServer_ModesHandlerMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	req := httptest.NewRequest("DELETE", "/api/modes", nil)
	w := httptest.NewRecorder()

	server.modesHandler(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_WriteErrorMapping(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:           "validation error maps to 400",
			err:            &gateway.ValidationError{Message: "only image or PDF files are supported"},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "only image or PDF files are supported",
		},
		{
			name:           "model error maps to 500",
			err:            &model.Error{Err: errors.New("connection refused")},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "model inference failed",
		},
		{
			name:           "not found maps to 404",
			err:            &history.NotFoundError{ID: "missing"},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "history entry not found: missing",
		},
		{
			name:           "unknown error maps to 500",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedMsg, response.Message)
		})
	}
}

func TestServer_CORSMiddleware(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	handler := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("adds CORS headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("answers preflight without calling handler", func(t *testing.T) {
		called := false
		h := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		req := httptest.NewRequest("OPTIONS", "/api/ocr", nil)
		w := httptest.NewRecorder()

		h(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, called)
	})
}
