package server

import (
	"context"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
)

// fakeGateway returns a canned result or error without touching a model.
type fakeGateway struct {
	result  *history.Result
	err     error
	lastReq gateway.Request
}

func (f *fakeGateway) RunOCR(_ context.Context, req gateway.Request) (*history.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &history.Result{
		Mode:      "gundam",
		Text:      "recognized text",
		FileName:  req.FileName,
		FileSize:  int64(len(req.Data)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// fakeHistory serves stored results from memory.
type fakeHistory struct {
	entries []history.Entry
	results map[string]*history.Result
}

func (f *fakeHistory) List() []history.Entry { return f.entries }

func (f *fakeHistory) Get(id string) (*history.Result, error) {
	if result, ok := f.results[id]; ok {
		return result, nil
	}
	return nil, &history.NotFoundError{ID: id}
}

func (f *fakeHistory) Download(id, format string) ([]byte, string, error) {
	if _, ok := f.results[id]; !ok {
		return nil, "", &history.NotFoundError{ID: id}
	}
	if format == "html" {
		return []byte("<h1>doc</h1>"), "text/html; charset=utf-8", nil
	}
	return []byte("# doc"), "text/markdown; charset=utf-8", nil
}

func newTestServer(gw ocrGateway, store historyStore) *Server {
	s := NewServer(Config{
		CORSOrigin:    "*",
		MaxUploadMB:   15,
		ModelEndpoint: "http://127.0.0.1:8501/infer",
	}, gw, task.NewRegistry(), store, "<image>\nFree OCR.")
	s.progressIdleTimeout = 2 * time.Second
	return s
}
