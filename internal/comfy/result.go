package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"kontext/internal/logging"
	"kontext/internal/services"
)

const handshakeTimeout = 10 * time.Second

// Progress is one execution progress report from the server.
type Progress struct {
	Value int
	Max   int
	Node  string
}

// Percent returns the completed fraction as 0-100.
func (p Progress) Percent() float64 {
	if p.Max <= 0 {
		return 0
	}
	return float64(p.Value) / float64(p.Max) * 100
}

// Result describes a finished generation.
type Result struct {
	// ArtifactPath is the downloaded output image inside the staging
	// directory.
	ArtifactPath string
}

// wsFrame is the subset of the server's websocket event schema we act on.
type wsFrame struct {
	Type string `json:"type"`
	Data struct {
		Node             *string `json:"node"`
		PromptID         string  `json:"prompt_id"`
		Value            int     `json:"value"`
		Max              int     `json:"max"`
		NodeType         string  `json:"node_type"`
		ExceptionMessage string  `json:"exception_message"`
	} `json:"data"`
}

// imageRef locates one output image on the server.
type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// AwaitResult follows a submitted prompt over the websocket until the server
// finishes executing it, then downloads the output image into the staging
// directory. onProgress, when non-nil, receives every progress frame; callers
// throttle as they see fit. Cancelling ctx abandons the wait and reports the
// job as cancelled.
func (c *Client) AwaitResult(ctx context.Context, handle Handle, onProgress func(Progress)) (Result, error) {
	conn, err := c.dial(ctx, handle.ClientID)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	// Unblock the read loop when the job is cancelled out from under us.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	// The prompt was queued before this socket existed, so a fast job may
	// already be finished and its events gone. History is authoritative
	// for finished prompts; check it before trusting the event stream.
	if ref, finished, err := c.historyImage(ctx, handle.PromptID); err == nil && finished {
		if ref.Filename == "" {
			return Result{}, services.Wrap(services.ErrExecution, "comfy", "await result",
				"prompt finished without an output image", nil)
		}
		return c.download(ctx, handle.PromptID, ref)
	}

	if err := c.readUntilDone(ctx, conn, handle.PromptID, onProgress); err != nil {
		return Result{}, err
	}

	ref, finished, err := c.historyImage(ctx, handle.PromptID)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConnectionLost, "comfy", "fetch history", handle.PromptID, err)
	}
	if !finished || ref.Filename == "" {
		return Result{}, services.Wrap(services.ErrExecution, "comfy", "await result",
			"prompt finished without an output image", nil)
	}
	return c.download(ctx, handle.PromptID, ref)
}

func (c *Client) dial(ctx context.Context, clientID string) (*websocket.Conn, error) {
	wsURL := "ws://" + c.cfg.ComfyUI.ServerAddress + "/ws?clientId=" + url.QueryEscape(clientID)
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, "comfy", "open event stream", "", ctx.Err())
		}
		return nil, services.Wrap(services.ErrConnectionLost, "comfy", "open event stream", wsURL, err)
	}
	return conn, nil
}

// readUntilDone consumes event frames until the server reports execution of
// this prompt finished or failed.
func (c *Client) readUntilDone(ctx context.Context, conn *websocket.Conn, promptID string, onProgress func(Progress)) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return services.Wrap(services.ErrCancelled, "comfy", "await result", "", ctx.Err())
			}
			return services.Wrap(services.ErrConnectionLost, "comfy", "await result",
				"event stream closed mid-job", err)
		}
		// Binary frames are preview image data; only text frames carry
		// execution events.
		if msgType != websocket.TextMessage {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "progress":
			if onProgress != nil && frame.Data.Max > 0 {
				node := ""
				if frame.Data.Node != nil {
					node = *frame.Data.Node
				}
				onProgress(Progress{Value: frame.Data.Value, Max: frame.Data.Max, Node: node})
			}
		case "executing":
			if frame.Data.Node == nil && frame.Data.PromptID == promptID {
				return nil
			}
		case "execution_error":
			if frame.Data.PromptID != promptID {
				continue
			}
			detail := frame.Data.ExceptionMessage
			if frame.Data.NodeType != "" {
				detail = frame.Data.NodeType + ": " + detail
			}
			return services.Wrap(services.ErrExecution, "comfy", "await result", detail, nil)
		}
	}
}

// historyImage looks the prompt up in the server's history. finished is false
// while the prompt has not completed; a finished prompt with no image returns
// an empty ref.
func (c *Client) historyImage(ctx context.Context, promptID string) (imageRef, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.ServerBaseURL()+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return imageRef{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return imageRef{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return imageRef{}, false, fmt.Errorf("history endpoint answered %d", resp.StatusCode)
	}

	var entries map[string]struct {
		Outputs map[string]struct {
			Images []imageRef `json:"images"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return imageRef{}, false, fmt.Errorf("decode history: %w", err)
	}

	entry, ok := entries[promptID]
	if !ok {
		return imageRef{}, false, nil
	}

	// Walk output nodes in a stable order and take the first image.
	nodes := make([]string, 0, len(entry.Outputs))
	for node := range entry.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if images := entry.Outputs[node].Images; len(images) > 0 {
			return images[0], true, nil
		}
	}
	return imageRef{}, true, nil
}

// download fetches the output image and writes it into the staging directory
// named after the prompt.
func (c *Client) download(ctx context.Context, promptID string, ref imageRef) (Result, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.ServerBaseURL()+"/view?"+query.Encode(), nil)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "comfy", "download artifact", "build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Wrap(services.ErrCancelled, "comfy", "download artifact", "", ctx.Err())
		}
		return Result{}, services.Wrap(services.ErrConnectionLost, "comfy", "download artifact", ref.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, services.Wrap(services.ErrExecution, "comfy", "download artifact",
			fmt.Sprintf("view endpoint answered %d for %s", resp.StatusCode, ref.Filename), nil)
	}

	ext := filepath.Ext(ref.Filename)
	if ext == "" {
		ext = ".png"
	}
	artifactPath := filepath.Join(c.cfg.Paths.StagingDir, promptID+ext)
	out, err := os.Create(artifactPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "comfy", "download artifact", artifactPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(artifactPath)
		return Result{}, services.Wrap(services.ErrConnectionLost, "comfy", "download artifact",
			"artifact transfer interrupted", err)
	}
	if err := out.Close(); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "comfy", "download artifact", artifactPath, err)
	}

	c.logger.Debug("artifact downloaded",
		logging.String(logging.FieldPromptID, promptID),
		logging.String("artifact", artifactPath),
	)
	return Result{ArtifactPath: artifactPath}, nil
}
