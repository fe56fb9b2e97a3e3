package support

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/server"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/MeKo-Tech/ocrstudio/internal/testutil"
	"github.com/cucumber/godog"
)

// progressStates collects what the SSE stream delivered during an upload.
var progressStates []task.State

// RegisterAPISteps wires the step definitions for the HTTP API features.
func (testCtx *TestContext) RegisterAPISteps(sc *godog.ScenarioContext) {
	sc.Step(`^the model replies with:$`, testCtx.theModelRepliesWithDoc)
	sc.Step(`^the model replies with "([^"]*)"$`, testCtx.theModelRepliesWith)

	sc.Step(`^I upload a (\d+)x(\d+) PNG image "([^"]*)"$`, testCtx.iUploadPNG)
	sc.Step(`^I upload a (\d+)x(\d+) PNG image "([^"]*)" with mode "([^"]*)"$`, testCtx.iUploadPNGWithMode)
	sc.Step(`^I upload a (\d+)x(\d+) PNG image "([^"]*)" with progress tracking$`, testCtx.iUploadPNGWithProgress)
	sc.Step(`^I upload the bytes "([^"]*)" as "([^"]*)"$`, testCtx.iUploadBytes)

	sc.Step(`^the response status is (\d+)$`, testCtx.theResponseStatusIs)
	sc.Step(`^the recognized text is "([^"]*)"$`, testCtx.theRecognizedTextIs)
	sc.Step(`^the first page has a layout item labeled "([^"]*)"$`, testCtx.firstPageHasLayoutItem)
	sc.Step(`^the error message contains "([^"]*)"$`, testCtx.errorMessageContains)

	sc.Step(`^the progress stages include "([^"]*)"$`, testCtx.progressStagesInclude)
	sc.Step(`^the progress percents never decrease$`, testCtx.progressPercentsNeverDecrease)
	sc.Step(`^the final progress is "complete" at 100 percent$`, testCtx.finalProgressComplete)

	sc.Step(`^the history lists (\d+) entr(?:y|ies)$`, testCtx.historyLists)
	sc.Step(`^I download the latest history entry as "([^"]*)"$`, testCtx.downloadLatestHistory)
	sc.Step(`^the download contains "([^"]*)"$`, testCtx.downloadContains)
}

func (testCtx *TestContext) theModelRepliesWithDoc(doc *godog.DocString) error {
	testCtx.setModelText(doc.Content)
	return nil
}

func (testCtx *TestContext) theModelRepliesWith(text string) error {
	testCtx.setModelText(text)
	return nil
}

func (testCtx *TestContext) iUploadPNG(width, height int, filename string) error {
	return testCtx.iUploadPNGWithMode(width, height, filename, "")
}

func (testCtx *TestContext) iUploadPNGWithMode(width, height int, filename, mode string) error {
	data, err := testutil.PNGBytes(width, height)
	if err != nil {
		return err
	}
	fields := map[string]string{}
	if mode != "" {
		fields["mode"] = mode
	}
	return testCtx.uploadFile(filename, "image/png", data, fields)
}

func (testCtx *TestContext) iUploadBytes(content, filename string) error {
	return testCtx.uploadFile(filename, "application/octet-stream", []byte(content), nil)
}

// iUploadPNGWithProgress creates a task, attaches an SSE reader, uploads with
// the task id, and gathers progress frames until the stream closes.
func (testCtx *TestContext) iUploadPNGWithProgress(width, height int, filename string) error {
	resp, err := http.Post(testCtx.apiSrv.URL+"/api/task/create", "application/json", nil)
	if err != nil {
		return err
	}
	var created server.TaskCreateResponse
	err = json.NewDecoder(resp.Body).Decode(&created)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	testCtx.taskID = created.TaskID

	streamResp, err := http.Get(testCtx.apiSrv.URL + "/api/progress/" + testCtx.taskID)
	if err != nil {
		return err
	}

	progressStates = nil
	done := make(chan error, 1)
	go func() {
		defer func() { _ = streamResp.Body.Close() }()
		scanner := bufio.NewScanner(streamResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var state task.State
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &state); err != nil {
				done <- err
				return
			}
			progressStates = append(progressStates, state)
		}
		done <- scanner.Err()
	}()

	data, err := testutil.PNGBytes(width, height)
	if err != nil {
		return err
	}
	if err := testCtx.uploadFile(filename, "image/png", data, map[string]string{"task_id": testCtx.taskID}); err != nil {
		return err
	}

	return <-done
}

func (testCtx *TestContext) theResponseStatusIs(status int) error {
	if testCtx.lastStatus != status {
		return fmt.Errorf("expected status %d, got %d (body: %s)", status, testCtx.lastStatus, testCtx.lastBody)
	}
	return nil
}

func (testCtx *TestContext) lastResult() (*history.Result, error) {
	var result history.Result
	if err := json.Unmarshal(testCtx.lastBody, &result); err != nil {
		return nil, fmt.Errorf("response is not a result: %w (body: %s)", err, testCtx.lastBody)
	}
	return &result, nil
}

func (testCtx *TestContext) theRecognizedTextIs(text string) error {
	result, err := testCtx.lastResult()
	if err != nil {
		return err
	}
	if result.Text != text {
		return fmt.Errorf("expected text %q, got %q", text, result.Text)
	}
	testCtx.historyID = result.HistoryID
	return nil
}

func (testCtx *TestContext) firstPageHasLayoutItem(label string) error {
	result, err := testCtx.lastResult()
	if err != nil {
		return err
	}
	if len(result.Pages) == 0 || !result.Pages[0].HasLayout() {
		return fmt.Errorf("first page carries no layout (body: %s)", testCtx.lastBody)
	}
	for _, item := range result.Pages[0].Layout.Items {
		if item.Label == label {
			return nil
		}
	}
	return fmt.Errorf("no layout item labeled %q on the first page", label)
}

func (testCtx *TestContext) errorMessageContains(fragment string) error {
	var response server.ErrorResponse
	if err := json.Unmarshal(testCtx.lastBody, &response); err != nil {
		return fmt.Errorf("response is not an error body: %w (body: %s)", err, testCtx.lastBody)
	}
	if !strings.Contains(response.Message, fragment) {
		return fmt.Errorf("error message %q does not contain %q", response.Message, fragment)
	}
	return nil
}

func (testCtx *TestContext) progressStagesInclude(list string) error {
	seen := make(map[task.Stage]bool)
	for _, state := range progressStates {
		seen[state.Stage] = true
	}
	for _, name := range strings.Split(list, ",") {
		stage := task.Stage(strings.TrimSpace(name))
		if !seen[stage] {
			return fmt.Errorf("stage %q missing from progress stream (got %v)", stage, progressStates)
		}
	}
	return nil
}

func (testCtx *TestContext) progressPercentsNeverDecrease() error {
	last := 0
	for _, state := range progressStates {
		if state.Percent < last {
			return fmt.Errorf("progress went backwards: %d after %d", state.Percent, last)
		}
		last = state.Percent
	}
	return nil
}

func (testCtx *TestContext) finalProgressComplete() error {
	if len(progressStates) == 0 {
		return fmt.Errorf("no progress frames received")
	}
	final := progressStates[len(progressStates)-1]
	if final.Stage != task.StageComplete || final.Percent != 100 {
		return fmt.Errorf("final frame is %s at %d, want complete at 100", final.Stage, final.Percent)
	}
	return nil
}

func (testCtx *TestContext) historyLists(count int) error {
	if err := testCtx.get("/api/history"); err != nil {
		return err
	}
	var response server.HistoryListResponse
	if err := json.Unmarshal(testCtx.lastBody, &response); err != nil {
		return fmt.Errorf("response is not a history listing: %w", err)
	}
	if len(response.Items) != count {
		return fmt.Errorf("expected %d history entries, got %d", count, len(response.Items))
	}
	if count > 0 {
		testCtx.historyID = response.Items[0].ID
	}
	return nil
}

func (testCtx *TestContext) downloadLatestHistory(format string) error {
	if testCtx.historyID == "" {
		return fmt.Errorf("no history entry recorded by a previous step")
	}
	return testCtx.get("/api/history/" + testCtx.historyID + "/download?format=" + format)
}

func (testCtx *TestContext) downloadContains(fragment string) error {
	if !bytes.Contains(testCtx.lastBody, []byte(fragment)) {
		return fmt.Errorf("download does not contain %q (body: %s)", fragment, testCtx.lastBody)
	}
	return nil
}
