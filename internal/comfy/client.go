package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kontext/internal/config"
	"kontext/internal/logging"
	"kontext/internal/services"
)

const (
	httpTimeout  = 60 * time.Second
	retryDelay   = time.Second
	maxErrorBody = 4096
)

// Handle identifies one submitted generation on the server.
type Handle struct {
	PromptID string
	ClientID string
}

// Client talks to the server's HTTP and websocket API. One Client carries a
// stable client ID so the server routes execution events back to us.
type Client struct {
	cfg      *config.Config
	http     *http.Client
	clientID string
	logger   *slog.Logger
}

// NewClient constructs a client with a fresh client ID.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: httpTimeout},
		clientID: uuid.NewString(),
		logger:   logging.ComponentLogger(cfg, logger, "comfy"),
	}
}

// Submit uploads the staged image, binds it and the prompt into the workflow
// template, and queues the result. The returned handle is what AwaitResult
// follows to completion.
func (c *Client) Submit(ctx context.Context, imagePath, prompt string) (Handle, error) {
	wf, err := LoadWorkflow(c.cfg.Workflow.TemplatePath)
	if err != nil {
		return Handle{}, services.Wrap(services.ErrConfiguration, "comfy", "load workflow template",
			c.cfg.Workflow.TemplatePath, err)
	}

	uploaded, err := c.uploadImage(ctx, imagePath)
	if err != nil {
		return Handle{}, err
	}

	if err := wf.Fill(c.cfg, uploaded, prompt); err != nil {
		return Handle{}, services.Wrap(services.ErrConfiguration, "comfy", "fill workflow", "", err)
	}

	promptID, err := c.queuePrompt(ctx, wf)
	if err != nil {
		return Handle{}, err
	}

	c.logger.Info("prompt queued",
		logging.String(logging.FieldPromptID, promptID),
		logging.String("uploaded_image", uploaded),
	)
	return Handle{PromptID: promptID, ClientID: c.clientID}, nil
}

// uploadImage pushes the staged input image to the server and returns the
// name the server stored it under.
func (c *Client) uploadImage(ctx context.Context, imagePath string) (string, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "comfy", "read staged image", imagePath, err)
	}

	// Upload under a unique name so concurrent history entries never
	// clobber each other on the server side.
	remoteName := uuid.NewString() + filepath.Ext(imagePath)
	body, contentType, err := buildUploadBody(remoteName, image)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "comfy", "build upload request", "", err)
	}

	resp, err := c.postWithRetry(ctx, "upload image", c.cfg.ServerBaseURL()+"/upload/image", contentType, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrSubmissionRejected, "comfy", "upload image",
			responseSummary(resp.StatusCode, payload), nil)
	}

	var decoded struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded.Name == "" {
		return "", services.Wrap(services.ErrSubmissionRejected, "comfy", "upload image",
			"unexpected upload response", err)
	}

	c.logger.Debug("image uploaded", logging.String("remote_name", decoded.Name))
	return decoded.Name, nil
}

// queuePrompt submits the filled workflow and returns the server-assigned
// prompt ID.
func (c *Client) queuePrompt(ctx context.Context, wf Workflow) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    wf,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "comfy", "encode prompt", "", err)
	}

	resp, err := c.postWithRetry(ctx, "queue prompt", c.cfg.ServerBaseURL()+"/prompt", "application/json", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrSubmissionRejected, "comfy", "queue prompt",
			responseSummary(resp.StatusCode, body), nil)
	}

	var decoded struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.PromptID == "" {
		return "", services.Wrap(services.ErrSubmissionRejected, "comfy", "queue prompt",
			"response carried no prompt id", err)
	}
	return decoded.PromptID, nil
}

// postWithRetry POSTs the payload, retrying once after a short delay when the
// server is unreachable. HTTP-level rejections are returned to the caller
// unretried; only transport failures qualify.
func (c *Client) postWithRetry(ctx context.Context, operation, url, contentType string, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, services.Wrap(services.ErrCancelled, "comfy", operation, "cancelled before retry", ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "comfy", operation, "build request", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, "comfy", operation, "cancelled", ctx.Err())
		}
		lastErr = err
		if attempt == 0 {
			c.logger.Warn("request failed, retrying once",
				logging.String("operation", operation),
				logging.Error(err),
			)
		}
	}
	return nil, services.Wrap(services.ErrConnectionLost, "comfy", operation, "server unreachable after retry", lastErr)
}

func buildUploadBody(remoteName string, image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", remoteName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// responseSummary renders a short description of a rejecting response,
// surfacing the server's error message when the payload carries one.
func responseSummary(status int, body []byte) string {
	if msg := extractErrorMessage(body); msg != "" {
		return fmt.Sprintf("server answered %d: %s", status, msg)
	}
	return fmt.Sprintf("server answered %d", status)
}

// extractErrorMessage pulls a human-readable message out of the server's
// error payload, which nests either an object or a bare string under "error".
func extractErrorMessage(body []byte) string {
	var structured struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error.Message != "" {
		return structured.Error.Message
	}
	var loose struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &loose); err == nil && loose.Error != "" {
		return loose.Error
	}
	return ""
}
