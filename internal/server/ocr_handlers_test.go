package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// multipartUpload builds a multipart body with a file part plus extra fields.
func multipartUpload(t *testing.T, filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestServer_OCRHandler(t *testing.T) {
	gw := &fakeGateway{}
	server := newTestServer(gw, &fakeHistory{})

	body, contentType := multipartUpload(t, "scan.png", "image/png", []byte("fake png bytes"), map[string]string{
		"mode":    "small",
		"prompt":  "<image>\nFree OCR.",
		"task_id": "task-123",
	})

	req := httptest.NewRequest("POST", "/api/ocr", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result history.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "recognized text", result.Text)
	assert.Equal(t, "scan.png", result.FileName)

	// The form fields travel into the gateway request untouched.
	assert.Equal(t, "small", gw.lastReq.Mode)
	assert.Equal(t, "<image>\nFree OCR.", gw.lastReq.Prompt)
	assert.Equal(t, "task-123", gw.lastReq.TaskID)
	assert.Equal(t, []byte("fake png bytes"), gw.lastReq.Data)
}

func TestServer_OCRHandlerMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	req := httptest.NewRequest("GET", "/api/ocr", nil)
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_OCRHandlerMissingFile(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("mode", "base"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/ocr", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "No file provided", response.Message)
}

func TestServer_OCRHandlerValidationError(t *testing.T) {
	gw := &fakeGateway{err: &gateway.ValidationError{Message: "unsupported mode: warp"}}
	server := newTestServer(gw, &fakeHistory{})

	body, contentType := multipartUpload(t, "scan.png", "image/png", []byte("data"), map[string]string{
		"mode": "warp",
	})

	req := httptest.NewRequest("POST", "/api/ocr", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response.Message, "unsupported mode")
}

func TestServer_OCRHandlerModelError(t *testing.T) {
	gw := &fakeGateway{err: &model.Error{Err: errors.New("connection refused")}}
	server := newTestServer(gw, &fakeHistory{})

	body, contentType := multipartUpload(t, "scan.png", "image/png", []byte("data"), nil)

	req := httptest.NewRequest("POST", "/api/ocr", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "model inference failed", response.Message)
	assert.Contains(t, response.Detail, "connection refused")
}

func TestServer_OCRHandlerOversizedBody(t *testing.T) {
	server := newTestServer(&fakeGateway{}, &fakeHistory{})
	server.maxUploadMB = 0 // shrink the limit so only the framing headroom remains

	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	body, contentType := multipartUpload(t, "big.png", "image/png", big, nil)

	req := httptest.NewRequest("POST", "/api/ocr", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	server.ocrHandler(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
