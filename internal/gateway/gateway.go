package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/layout"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/MeKo-Tech/ocrstudio/internal/pdfsplit"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Inference percent runs from 20 to 90, scaled by completed pages; the
// remaining phases use the fixed checkpoints below (upload 0, preprocessing
// 10/20, postprocessing 95).
const (
	inferenceBase  = 20
	inferenceRange = 70
)

// Gateway owns the single-concurrency discipline around the model: exactly one
// inference runs at any instant, additional requests queue on the lock.
type Gateway struct {
	runner   model.Runner
	registry *task.Registry
	store    HistoryStore

	defaultPrompt  string
	maxUploadBytes int64

	// inferMu is the explicit mutual-exclusion lock around model invocation.
	inferMu sync.Mutex
}

// New creates a gateway. The history store may be nil, in which case runs are
// not persisted.
func New(runner model.Runner, registry *task.Registry, store HistoryStore, cfg *config.Config) *Gateway {
	return &Gateway{
		runner:         runner,
		registry:       registry,
		store:          store,
		defaultPrompt:  cfg.Model.DefaultPrompt,
		maxUploadBytes: cfg.Server.MaxUploadBytes(),
	}
}

// DefaultPrompt returns the prompt used when a request carries none.
func (g *Gateway) DefaultPrompt() string { return g.defaultPrompt }

// MaxUploadBytes returns the upload size limit enforced by RunOCR.
func (g *Gateway) MaxUploadBytes() int64 { return g.maxUploadBytes }

// RunOCR validates the upload, serializes model access, and returns the
// normalized result. Progress transitions are written into the task registry
// when the request carries a task id; without one the request runs with no
// progress reporting, which is a degraded-observability path rather than an
// error.
func (g *Gateway) RunOCR(ctx context.Context, req Request) (*history.Result, error) {
	isPDF, err := g.validate(&req)
	if err != nil {
		return nil, err
	}

	mode, err := model.ModeFor(req.Mode)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if req.Mode == "" {
		req.Mode = model.DefaultMode
	}
	prompt := model.EnsurePrompt(req.Prompt, g.defaultPrompt)

	report := g.reporter(req.TaskID)
	report(task.State{Stage: task.StageUpload, Percent: 0, Total: 100, Message: "saving upload"})
	report(task.State{Stage: task.StagePreprocessing, Percent: 10, Current: 10, Total: 100, Message: "preparing input"})

	pages, err := g.preparePages(req.Data, isPDF)
	if err != nil {
		report(task.State{Stage: task.StageError, Message: err.Error()})
		return nil, err
	}
	if isPDF {
		report(task.State{
			Stage:   task.StagePreprocessing,
			Percent: 20, Current: 20, Total: 100,
			Message: fmt.Sprintf("PDF split into %d page(s)", len(pages)),
		})
	}

	start := time.Now()
	resultPages, err := g.inferPages(ctx, pages, mode, prompt, isPDF, report)
	if err != nil {
		report(task.State{Stage: task.StageError, Message: err.Error()})
		return nil, err
	}

	report(task.State{Stage: task.StagePostprocessing, Percent: 95, Current: 95, Total: 100, Message: "assembling result"})

	result := assembleResult(req, prompt, resultPages, isPDF, time.Since(start))

	if g.store != nil && !req.SkipHistory {
		id, err := g.store.Save(result)
		if err != nil {
			// History is best-effort; the inference result is still valid.
			slog.Warn("Failed to persist run to history", "file", req.FileName, "error", err)
		} else {
			result.HistoryID = id
		}
	}

	report(task.State{Stage: task.StageComplete, Percent: 100, Current: 100, Total: 100, Message: "recognition complete"})
	return result, nil
}

// validate rejects oversized or unsupported uploads before any task state is
// written or the model lock is taken.
func (g *Gateway) validate(req *Request) (isPDF bool, err error) {
	if len(req.Data) == 0 {
		return false, &ValidationError{Message: "no file provided"}
	}
	if g.maxUploadBytes > 0 && int64(len(req.Data)) > g.maxUploadBytes {
		return false, &ValidationError{
			Message: fmt.Sprintf("file exceeds the %d MB limit", g.maxUploadBytes/(1024*1024)),
		}
	}
	if req.FileName == "" {
		req.FileName = "upload"
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Data)
	}

	if ext == ".pdf" || contentType == "application/pdf" {
		return true, nil
	}
	if strings.HasPrefix(contentType, "image/") {
		return false, nil
	}
	return false, &ValidationError{Message: "only image or PDF files are supported"}
}

// pageInput is one page image ready for inference.
type pageInput struct {
	data   []byte
	width  int
	height int
	mime   string
}

func (g *Gateway) preparePages(data []byte, isPDF bool) ([]pageInput, error) {
	if !isPDF {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid image: %v", err)}
		}
		bounds := img.Bounds()
		return []pageInput{{
			data:   data,
			width:  bounds.Dx(),
			height: bounds.Dy(),
			mime:   http.DetectContentType(data),
		}}, nil
	}

	pageImages, err := pdfsplit.Pages(data)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("unable to parse PDF: %v", err)}
	}
	pages := make([]pageInput, len(pageImages))
	for i, p := range pageImages {
		bounds := p.Image.Bounds()
		pages[i] = pageInput{
			data:   p.Data,
			width:  bounds.Dx(),
			height: bounds.Dy(),
			mime:   p.MIME,
		}
	}
	return pages, nil
}

// inferPages runs the model once per page under the exclusive lock and
// normalizes each page's output.
func (g *Gateway) inferPages(
	ctx context.Context,
	pages []pageInput,
	mode model.ModeConfig,
	prompt string,
	isPDF bool,
	report func(task.State),
) ([]layout.Page, error) {
	g.inferMu.Lock()
	defer g.inferMu.Unlock()

	total := len(pages)
	results := make([]layout.Page, 0, total)

	for idx, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report(task.State{
			Stage:   task.StageInference,
			Percent: pagePercent(idx, total),
			Current: pagePercent(idx, total),
			Total:   100,
			Message: fmt.Sprintf("recognizing page %d/%d", idx+1, total),
		})

		pageStart := time.Now()
		raw, err := g.runner.Infer(ctx, model.Request{
			Prompt:    prompt,
			ImageData: page.data,
			Mode:      mode,
		})
		if err != nil {
			return nil, err
		}

		normalized := layout.Normalize(raw, page.width, page.height, idx)
		normalized.DurationMs = float64(time.Since(pageStart).Microseconds()) / 1000
		if isPDF {
			normalized.ImageData = dataURL(page.mime, page.data)
		}
		results = append(results, normalized)

		report(task.State{
			Stage:   task.StageInference,
			Percent: pagePercent(idx+1, total),
			Current: pagePercent(idx+1, total),
			Total:   100,
			Message: fmt.Sprintf("page %d/%d recognized", idx+1, total),
		})
	}
	return results, nil
}

func assembleResult(req Request, prompt string, pages []layout.Page, isPDF bool, elapsed time.Duration) *history.Result {
	result := &history.Result{
		Mode:       req.Mode,
		Prompt:     prompt,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		FileName:   req.FileName,
		FileSize:   int64(len(req.Data)),
		Pages:      pages,
		IsPDF:      isPDF,
		CreatedAt:  time.Now().UTC(),
	}

	if !isPDF && len(pages) == 1 {
		result.Text = pages[0].Text
		result.RawText = pages[0].RawText
		return result
	}

	texts := make([]string, 0, len(pages))
	raws := make([]string, 0, len(pages))
	for i, page := range pages {
		texts = append(texts, strings.TrimSpace(fmt.Sprintf("## Page %d\n%s", i+1, page.Text)))
		raws = append(raws, strings.TrimSpace(fmt.Sprintf("[Page %d]\n%s", i+1, page.RawText)))
	}
	result.Text = strings.Join(texts, "\n\n")
	result.RawText = strings.Join(raws, "\n\n")
	return result
}

// reporter returns a progress sink for the task, or a no-op when no task id
// was supplied.
func (g *Gateway) reporter(taskID string) func(task.State) {
	if taskID == "" || g.registry == nil {
		return func(task.State) {}
	}
	return func(s task.State) {
		g.registry.Update(taskID, s)
	}
}

func pagePercent(done, total int) int {
	if total <= 0 {
		return inferenceBase
	}
	return inferenceBase + done*inferenceRange/total
}

func dataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
