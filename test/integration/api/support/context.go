// Package support holds the godog test context and step definitions for the
// HTTP API feature suite.
package support

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"sync"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
	"github.com/MeKo-Tech/ocrstudio/internal/server"
)

// TestContext carries the state shared by the steps of one scenario.
type TestContext struct {
	modelSrv *httptest.Server
	apiSrv   *httptest.Server

	historyDir string

	mu        sync.Mutex
	modelText string

	lastStatus int
	lastBody   []byte
	taskID     string
	historyID  string
}

// NewTestContext starts a stub model endpoint and a full API server wired to
// it, with history stored in a scenario-scoped temp directory.
func NewTestContext() (*TestContext, error) {
	testCtx := &TestContext{}

	testCtx.modelSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testCtx.mu.Lock()
		text := testCtx.modelText
		testCtx.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))

	historyDir, err := os.MkdirTemp("", "ocrstudio-features-*")
	if err != nil {
		testCtx.modelSrv.Close()
		return nil, err
	}
	testCtx.historyDir = historyDir

	cfg := config.DefaultConfig()
	cfg.Model.Endpoint = testCtx.modelSrv.URL
	cfg.History.Dir = historyDir

	apiServer, err := server.NewFromConfig(&cfg)
	if err != nil {
		testCtx.modelSrv.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)
	testCtx.apiSrv = httptest.NewServer(mux)

	return testCtx, nil
}

// Cleanup tears down the servers and the scenario history directory.
func (testCtx *TestContext) Cleanup() error {
	testCtx.apiSrv.Close()
	testCtx.modelSrv.Close()
	return os.RemoveAll(testCtx.historyDir)
}

// setModelText configures what the stub model returns.
func (testCtx *TestContext) setModelText(text string) {
	testCtx.mu.Lock()
	defer testCtx.mu.Unlock()
	testCtx.modelText = text
}

// uploadFile posts a multipart OCR request and records the response.
func (testCtx *TestContext) uploadFile(filename, contentType string, data []byte, fields map[string]string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.apiSrv.URL+"/api/ocr", writer.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return testCtx.recordResponse(resp)
}

// get issues a GET against the API server and records the response.
func (testCtx *TestContext) get(path string) error {
	resp, err := http.Get(testCtx.apiSrv.URL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	testCtx.lastStatus = resp.StatusCode
	testCtx.lastBody = buf.Bytes()
	return nil
}
