package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-avatar-pipeline/internal/helpers"
	"go-avatar-pipeline/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	// ErrServerRejected wraps non-2xx submission/poll responses together
	// with whatever body the server returned.
	ErrServerRejected = errors.New("generation server rejected the request")
	// ErrMalformedCompletion marks a job the server reports as completed
	// without an asset URL. Surfaced, never silently retried.
	ErrMalformedCompletion = errors.New("server reported completion without an asset URL")
)

const defaultClientTimeout = 60 * time.Second

// Client talks to the remote avatar generation service: one submission
// endpoint, one status endpoint, plus plain downloads of finished assets.
// It holds no mutable state and is safe for reuse across requests.
type Client struct {
	BaseURL    string
	HttpClient *http.Client // Use a shared client
}

// NewClient creates a new generation service client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: httpClient,
	}
}

// Submit posts a generation request built from the profile and predicted
// ratios and returns the server-assigned task id.
func (c *Client) Submit(ctx context.Context, profile models.UserProfile, ratios models.BodyRatios, texture string) (string, error) {
	payload := models.GenerationRequest{
		Gender:     profile.Gender,
		Height:     float64(profile.Height),
		Weight:     float64(profile.Weight),
		Age:        models.DefaultAge,
		Texture:    texture,
		Nickname:   profile.Nickname,
		ChestRatio: ratios.Chest,
		WaistRatio: ratios.Waist,
		ThighRatio: ratios.Thigh,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding generation request: %w", err)
	}

	reqURL := c.BaseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request for %s: %v", ErrHttpRequest, reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.WithField("nickname", profile.Nickname).Debugf("Submitting generation request to %s", reqURL)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, reqURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading submission response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Errorf("Generation server rejected submission: status %d, body %s", resp.StatusCode, string(respBody))
		return "", fmt.Errorf("%w: status %d: %s", ErrServerRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var genResp models.GenerationResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		log.WithError(err).Debugf("Response body causing unmarshal error: %s", string(respBody))
		return "", fmt.Errorf("unmarshalling submission response: %w", err)
	}
	if genResp.TaskID == "" {
		return "", fmt.Errorf("%w: submission response carried no task_id", ErrServerRejected)
	}

	log.WithField("taskId", genResp.TaskID).Info("Generation task submitted")
	return genResp.TaskID, nil
}

// Poll fetches the current status of a task. A single request, no
// internal looping; the orchestrator drives the cadence.
func (c *Client) Poll(ctx context.Context, nickname, taskID string) (models.TaskStatusResponse, error) {
	reqURL := fmt.Sprintf("%s/task_status/%s/%s", c.BaseURL, url.PathEscape(nickname), url.PathEscape(taskID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: creating request for %s: %v", ErrHttpRequest, reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, reqURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.TaskStatusResponse{}, fmt.Errorf("reading task status body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: status %d: %s", ErrServerRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var status models.TaskStatusResponse
	if err := json.Unmarshal(respBody, &status); err != nil {
		log.WithError(err).Debugf("Response body causing unmarshal error: %s", string(respBody))
		return models.TaskStatusResponse{}, fmt.Errorf("unmarshalling task status: %w", err)
	}

	return status, nil
}

// UpdateJob folds a poll response into the job's previous state. Progress
// takes the server's reported value when present; otherwise a heuristic
// fills in: Pending sits at 15, Running creeps up 5 points per poll
// capped at 80, Completed jumps to 100. The server's progress is not
// checked for monotonicity.
func UpdateJob(prev models.GenerationJob, status models.TaskStatusResponse) models.GenerationJob {
	job := prev
	job.Status = models.ParseJobStatus(status.Status)

	if status.Progress != nil {
		job.Progress = *status.Progress
	} else {
		job.Progress = DeriveProgress(job.Status, prev.Progress)
	}

	if status.Message != nil {
		job.Message = *status.Message
	} else {
		job.Message = defaultStatusMessage(job.Status, job.Progress)
	}

	if status.URL != nil {
		job.ResultURL = *status.URL
	} else {
		job.ResultURL = ""
	}
	return job
}

// DeriveProgress estimates progress when the server omits it.
func DeriveProgress(status models.JobStatus, prev int) int {
	switch status {
	case models.StatusPending:
		return 15
	case models.StatusRunning:
		if prev+5 > 80 {
			return 80
		}
		return prev + 5
	case models.StatusCompleted:
		return 100
	default:
		return prev
	}
}

func defaultStatusMessage(status models.JobStatus, progress int) string {
	switch status {
	case models.StatusPending:
		return "Task queued..."
	case models.StatusRunning:
		return fmt.Sprintf("Generating model... %d%%", progress)
	case models.StatusCompleted:
		return "Generation complete, downloading model..."
	case models.StatusFailed:
		return "Generation failed"
	default:
		return string(status)
	}
}

// DownloadAsset fetches the finished asset bytes from the URL a completed
// job reported. Success is strictly HTTP 200.
func (c *Client) DownloadAsset(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating download request for %s: %v", ErrHttpRequest, assetURL, err)
	}

	log.Infof("Attempting to download asset from URL: %s", assetURL)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: performing download request for %s: %v", ErrHttpRequest, assetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("Error downloading asset: received status code %d from %s", resp.StatusCode, assetURL)
		return nil, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, assetURL)
	}

	var buf bytes.Buffer
	counter := &helpers.CounterWriter{Writer: &buf}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return nil, fmt.Errorf("reading asset body from %s: %w", assetURL, err)
	}

	log.Infof("Downloaded asset (%s)", helpers.BytesToSize(counter.Total))
	return buf.Bytes(), nil
}
