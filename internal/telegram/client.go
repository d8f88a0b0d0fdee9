package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"kontext/internal/config"
)

const pollTimeoutMargin = 10 * time.Second

// Client wraps the Telegram Bot API. It implements chat.Sink for outbound
// delivery and feeds the Poller for inbound updates.
type Client struct {
	token   string
	baseURL string
	// pollClient carries a timeout wide enough for long polls; httpClient
	// bounds every other call.
	httpClient *http.Client
	pollClient *http.Client
}

// Option customizes the Telegram client.
type Option func(*Client)

// WithHTTPClient overrides both underlying HTTP clients (useful for tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
			c.pollClient = client
		}
	}
}

// NewClient constructs a Bot API client from the configured token, endpoint,
// and timeouts.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	requestTimeout := time.Duration(cfg.Telegram.RequestTimeout) * time.Second
	client := &Client{
		token:      cfg.Telegram.Token,
		baseURL:    strings.TrimRight(cfg.Telegram.APIBaseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		pollClient: &http.Client{Timeout: time.Duration(cfg.Telegram.PollTimeout)*time.Second + pollTimeoutMargin},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GetMe fetches the bot's own identity, which doubles as a token check at
// startup.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	if err := c.call(ctx, c.httpClient, "getMe", nil, &me); err != nil {
		return User{}, err
	}
	return me, nil
}

// GetUpdates long-polls for new updates at or past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, c.pollClient, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendText delivers a plain text message to a chat.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, c.httpClient, "sendMessage", payload, nil)
}

// SendPhoto uploads a local image to a chat, with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoPath, caption string) error {
	photo, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("telegram sendPhoto: open %s: %w", photoPath, err)
	}
	defer photo.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("telegram sendPhoto: build form: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", truncateCaption(caption)); err != nil {
			return fmt.Errorf("telegram sendPhoto: build form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return fmt.Errorf("telegram sendPhoto: build form: %w", err)
	}
	if _, err := io.Copy(part, photo); err != nil {
		return fmt.Errorf("telegram sendPhoto: read %s: %w", photoPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("telegram sendPhoto: build form: %w", err)
	}

	return c.do(ctx, c.httpClient, "sendPhoto", writer.FormDataContentType(), &body, nil)
}

// DownloadPhoto resolves a file ID and pulls the bytes into the staging
// directory under a unique input_ name. It returns the staged path.
func (c *Client) DownloadPhoto(ctx context.Context, fileID, stagingDir string) (string, error) {
	var file File
	if err := c.call(ctx, c.httpClient, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", errors.New("telegram getFile: response carried no file path")
	}

	downloadURL := c.baseURL + "/file/bot" + c.token + "/" + file.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("telegram download: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.redact("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telegram download: http %d", resp.StatusCode)
	}

	ext := path.Ext(file.FilePath)
	if ext == "" {
		ext = ".png"
	}
	target := filepath.Join(stagingDir, "input_"+uuid.NewString()+ext)
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("telegram download: create %s: %w", target, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("telegram download: write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("telegram download: close %s: %w", target, err)
	}
	return target, nil
}

// call issues a JSON-encoded Bot API method.
func (c *Client) call(ctx context.Context, httpClient *http.Client, method string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram %s: encode request: %w", method, err)
		}
		body = bytes.NewReader(encoded)
	}
	return c.do(ctx, httpClient, method, "application/json", body, result)
}

// do issues one Bot API request and unwraps the response envelope.
func (c *Client) do(ctx context.Context, httpClient *http.Client, method, contentType string, body io.Reader, result any) error {
	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return c.redact(method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("telegram %s: decode response (http %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		apiErr := &APIError{
			Method:      method,
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
		}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		return apiErr
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// redact rewrites transport errors so the bot token never reaches logs. The
// URL inside url.Error would otherwise carry it.
func (c *Client) redact(method string, err error) error {
	msg := err.Error()
	if c.token != "" {
		msg = strings.ReplaceAll(msg, c.token, "<token>")
	}
	return fmt.Errorf("telegram %s: %s", method, msg)
}

// truncateCaption keeps captions inside the Bot API's 1024-character limit.
func truncateCaption(caption string) string {
	const limit = 1024
	runes := []rune(caption)
	if len(runes) <= limit {
		return caption
	}
	return string(runes[:limit-1]) + "…"
}
