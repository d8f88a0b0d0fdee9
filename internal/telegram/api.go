package telegram

import (
	"encoding/json"
	"fmt"
)

// Update is one long-poll result from the Bot API.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message carries the subset of the Bot API message object the daemon acts
// on: text, photo attachments, and enough sender identity for greetings and
// the history log.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Photo     []PhotoSize `json:"photo"`
}

// User identifies a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// PhotoSize is one resolution variant of an attached photo.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size"`
}

// File is the Bot API getFile result used to build a download path.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result"`
	Description string              `json:"description"`
	ErrorCode   int                 `json:"error_code"`
	Parameters  *responseParameters `json:"parameters"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

// APIError is a Bot API rejection. RetryAfter is set when the API asks us to
// back off.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: api error %d: %s", e.Method, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: api error %d", e.Method, e.Code)
}

// largestPhoto picks the highest-resolution variant. The API lists variants
// smallest first, so ties resolve to the later entry.
func largestPhoto(photos []PhotoSize) PhotoSize {
	best := photos[0]
	bestArea := best.Width * best.Height
	for _, candidate := range photos[1:] {
		if area := candidate.Width * candidate.Height; area >= bestArea {
			best = candidate
			bestArea = area
		}
	}
	return best
}
