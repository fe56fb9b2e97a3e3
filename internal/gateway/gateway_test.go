package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/MeKo-Tech/ocrstudio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns canned output and tracks concurrent invocations.
type fakeRunner struct {
	output string
	err    error
	delay  time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeRunner) Infer(ctx context.Context, req model.Request) (string, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*history.Result
}

func (f *fakeStore) Save(result *history.Result) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, result)
	return "hist-1", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	return testutil.PNG(t, w, h)
}

func newTestGateway(runner model.Runner, registry *task.Registry, store HistoryStore) *Gateway {
	cfg := config.DefaultConfig()
	return New(runner, registry, store, &cfg)
}

func TestRunOCRSingleImage(t *testing.T) {
	runner := &fakeRunner{output: "<|ref|>title<|/ref|><|det|>[[0.1,0.1,0.5,0.2]]<|/det|>Hello World"}
	store := &fakeStore{}
	gw := newTestGateway(runner, task.NewRegistry(), store)

	result, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 40, 20),
		FileName:    "scan.png",
		ContentType: "image/png",
	})
	require.NoError(t, err)

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 0, result.Pages[0].PageIndex)
	assert.Equal(t, "Hello World", result.Pages[0].Text)
	assert.Equal(t, "Hello World", result.Text)
	assert.False(t, result.IsPDF)
	assert.Equal(t, "gundam", result.Mode)
	assert.Equal(t, "hist-1", result.HistoryID)
	assert.Equal(t, int64(len(pngBytes(t, 40, 20))), result.FileSize)

	require.True(t, result.Pages[0].HasLayout())
	assert.Equal(t, 40, result.Pages[0].Layout.Width)
	assert.Equal(t, 20, result.Pages[0].Layout.Height)

	require.Len(t, store.saved, 1)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunOCRProgressSequence(t *testing.T) {
	runner := &fakeRunner{output: "plain text"}
	registry := task.NewRegistry()
	gw := newTestGateway(runner, registry, nil)

	id := registry.Create()
	ch, cancel := registry.Subscribe(id)
	defer cancel()

	_, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 10, 10),
		FileName:    "scan.png",
		ContentType: "image/png",
		TaskID:      id,
	})
	require.NoError(t, err)

	allowed := []task.Stage{
		task.StagePending,
		task.StageUpload,
		task.StagePreprocessing,
		task.StageInference,
		task.StagePostprocessing,
		task.StageComplete,
	}

	lastPercent := 0
	stageIdx := 0
	sawComplete := false
	for s := range ch {
		// Stages form a subsequence of the fixed order.
		for stageIdx < len(allowed) && allowed[stageIdx] != s.Stage {
			stageIdx++
		}
		require.Less(t, stageIdx, len(allowed), "unexpected stage %s", s.Stage)

		assert.GreaterOrEqual(t, s.Percent, lastPercent)
		lastPercent = s.Percent
		if s.Stage == task.StageComplete {
			sawComplete = true
			assert.Equal(t, 100, s.Percent)
		}
	}
	assert.True(t, sawComplete)
}

func TestRunOCRWithoutTaskID(t *testing.T) {
	runner := &fakeRunner{output: "text"}
	gw := newTestGateway(runner, task.NewRegistry(), nil)

	result, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 10, 10),
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "text", result.Text)
}

func TestRunOCROversizedUpload(t *testing.T) {
	runner := &fakeRunner{output: "text"}
	registry := task.NewRegistry()
	gw := newTestGateway(runner, registry, nil)

	data := pngBytes(t, 10, 10)
	gw.maxUploadBytes = int64(len(data)) - 1

	id := registry.Create()
	_, err := gw.RunOCR(context.Background(), Request{
		Data:        data,
		ContentType: "image/png",
		TaskID:      id,
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "limit")
	assert.Equal(t, int32(0), runner.calls.Load())

	// Rejected before any progress writes: the task is still pending.
	state, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StagePending, state.Stage)
}

func TestRunOCRUploadExactlyAtLimit(t *testing.T) {
	runner := &fakeRunner{output: "text"}
	gw := newTestGateway(runner, task.NewRegistry(), nil)

	data := pngBytes(t, 10, 10)
	gw.maxUploadBytes = int64(len(data))

	_, err := gw.RunOCR(context.Background(), Request{
		Data:        data,
		ContentType: "image/png",
	})
	assert.NoError(t, err)
}

func TestRunOCRUnsupportedType(t *testing.T) {
	gw := newTestGateway(&fakeRunner{}, task.NewRegistry(), nil)

	_, err := gw.RunOCR(context.Background(), Request{
		Data:        []byte("%!PS-Adobe postscript"),
		FileName:    "doc.ps",
		ContentType: "application/postscript",
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "only image or PDF")
}

func TestRunOCREmptyUpload(t *testing.T) {
	gw := newTestGateway(&fakeRunner{}, task.NewRegistry(), nil)

	_, err := gw.RunOCR(context.Background(), Request{})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRunOCRUnknownMode(t *testing.T) {
	gw := newTestGateway(&fakeRunner{}, task.NewRegistry(), nil)

	_, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 10, 10),
		ContentType: "image/png",
		Mode:        "warp",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "unsupported mode")
}

func TestRunOCRModelErrorReportsErrorStage(t *testing.T) {
	modelErr := &model.Error{Err: errors.New("CUDA out of memory")}
	runner := &fakeRunner{err: modelErr}
	registry := task.NewRegistry()
	gw := newTestGateway(runner, registry, nil)

	id := registry.Create()
	ch, cancel := registry.Subscribe(id)
	defer cancel()

	_, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 10, 10),
		ContentType: "image/png",
		TaskID:      id,
	})

	var mErr *model.Error
	require.ErrorAs(t, err, &mErr)

	state, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StageError, state.Stage)
	assert.Contains(t, state.Message, "CUDA out of memory")

	// The error event inherits the last reported percent so subscribers
	// never see a regression.
	lastPercent := 0
	var last task.State
	for s := range ch {
		assert.GreaterOrEqual(t, s.Percent, lastPercent,
			"percent regressed at stage %s", s.Stage)
		lastPercent = s.Percent
		last = s
	}
	assert.Equal(t, task.StageError, last.Stage)
	assert.Equal(t, pagePercent(0, 1), last.Percent)
}

func TestRunOCRNeverOverlapsModelCalls(t *testing.T) {
	runner := &fakeRunner{output: "text", delay: 30 * time.Millisecond}
	gw := newTestGateway(runner, task.NewRegistry(), nil)

	data := pngBytes(t, 10, 10)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.RunOCR(context.Background(), Request{
				Data:        data,
				ContentType: "image/png",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxInFlight.Load(),
		"model invocations must never overlap")
}

func TestRunOCRSkipHistory(t *testing.T) {
	store := &fakeStore{}
	gw := newTestGateway(&fakeRunner{output: "text"}, task.NewRegistry(), store)

	result, err := gw.RunOCR(context.Background(), Request{
		Data:        pngBytes(t, 10, 10),
		ContentType: "image/png",
		SkipHistory: true,
	})
	require.NoError(t, err)
	assert.Empty(t, result.HistoryID)
	assert.Empty(t, store.saved)
}

func TestRunOCRPDFDocument(t *testing.T) {
	runner := &fakeRunner{output: "page body"}
	registry := task.NewRegistry()
	gw := newTestGateway(runner, registry, nil)

	id := registry.Create()
	result, err := gw.RunOCR(context.Background(), Request{
		Data:        testutil.PDF(t, 60, 61),
		FileName:    "doc.pdf",
		ContentType: "application/pdf",
		TaskID:      id,
	})
	require.NoError(t, err)

	assert.True(t, result.IsPDF)
	require.Len(t, result.Pages, 2)
	for i, page := range result.Pages {
		assert.Equal(t, i, page.PageIndex)
		assert.NotEmpty(t, page.ImageData, "PDF pages carry their rendered image")
		assert.Equal(t, "page body", page.Text)
	}
	assert.Equal(t, 60, result.Pages[0].Layout.Width)
	assert.Equal(t, 61, result.Pages[1].Layout.Width)

	assert.Contains(t, result.Text, "## Page 1")
	assert.Contains(t, result.Text, "## Page 2")
	assert.Equal(t, int32(2), runner.calls.Load())

	state, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StageComplete, state.Stage)
	assert.Equal(t, 100, state.Percent)
}

func TestInferPagesMultiPage(t *testing.T) {
	runner := &fakeRunner{output: "page body"}
	gw := newTestGateway(runner, task.NewRegistry(), nil)

	data := pngBytes(t, 16, 16)
	pages := []pageInput{
		{data: data, width: 16, height: 16, mime: "image/png"},
		{data: data, width: 16, height: 16, mime: "image/png"},
		{data: data, width: 16, height: 16, mime: "image/png"},
	}

	mode, err := model.ModeFor("base")
	require.NoError(t, err)

	results, err := gw.inferPages(context.Background(), pages, mode, "<image>\np", true, func(task.State) {})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, page := range results {
		assert.Equal(t, i, page.PageIndex)
		assert.NotEmpty(t, page.ImageData, "PDF pages carry their rendered image")
	}
	assert.Equal(t, int32(3), runner.calls.Load())
}

func TestAssembleResultMultiPageAggregation(t *testing.T) {
	gw := newTestGateway(&fakeRunner{output: "body"}, task.NewRegistry(), nil)

	data := pngBytes(t, 16, 16)
	pages := []pageInput{
		{data: data, width: 16, height: 16},
		{data: data, width: 16, height: 16},
	}
	mode, err := model.ModeFor("base")
	require.NoError(t, err)

	resultPages, err := gw.inferPages(context.Background(), pages, mode, "p", true, func(task.State) {})
	require.NoError(t, err)

	result := assembleResult(Request{FileName: "doc.pdf", Mode: "base"}, "p", resultPages, true, time.Second)
	assert.Contains(t, result.Text, "## Page 1")
	assert.Contains(t, result.Text, "## Page 2")
	assert.Contains(t, result.RawText, "[Page 1]")
	assert.True(t, result.IsPDF)
	assert.InDelta(t, 1000, result.DurationMs, 1)
}

func TestPagePercent(t *testing.T) {
	assert.Equal(t, 20, pagePercent(0, 4))
	assert.Equal(t, 55, pagePercent(2, 4))
	assert.Equal(t, 90, pagePercent(4, 4))
	assert.Equal(t, 20, pagePercent(0, 0))
}
