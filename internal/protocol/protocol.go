// Package protocol defines the wire shapes shared by the diagnosis server and
// the delivery client: push messages on the stream and the status-poll body.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message types sent over the push stream.
const (
	TypeConnected    = "connected"
	TypeProgress     = "progress"
	TypeStagePayload = "stage-payload"
	TypeComplete     = "complete"
	TypeError        = "error"
)

// Message is one typed push message.
type Message struct {
	Type     string          `json:"type"`
	RunID    string          `json:"run_id,omitempty"`
	Progress int             `json:"progress,omitempty"`
	Stage    string          `json:"stage,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Report   json.RawMessage `json:"report,omitempty"`
	Partial  bool            `json:"partial,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// StatusResponse is the body of the status-poll endpoint.
type StatusResponse struct {
	RunID    string            `json:"run_id,omitempty"`
	Progress int               `json:"progress"`
	Stage    string            `json:"stage,omitempty"`
	Status   string            `json:"status,omitempty"`
	Results  []json.RawMessage `json:"results,omitempty"`
	Error    string            `json:"error,omitempty"`
	Stop     bool              `json:"stop_polling,omitempty"`
	Report   json.RawMessage   `json:"report,omitempty"`
}

type statusWire struct {
	RunID           string            `json:"run_id"`
	Progress        json.RawMessage   `json:"progress"`
	Stage           string            `json:"stage"`
	Status          string            `json:"status"`
	Results         []json.RawMessage `json:"results"`
	DetailedResults []json.RawMessage `json:"detailed_results"`
	Error           json.RawMessage   `json:"error"`
	Stop            bool              `json:"stop_polling"`
	Report          json.RawMessage   `json:"report"`
}

// UnmarshalJSON accepts results under either results or detailed_results and
// progress as a number or a numeric string.
func (s *StatusResponse) UnmarshalJSON(data []byte) error {
	var wire statusWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	progress, err := parseProgress(wire.Progress)
	if err != nil {
		return err
	}
	results := wire.Results
	if len(results) == 0 {
		results = wire.DetailedResults
	}
	*s = StatusResponse{
		RunID:    wire.RunID,
		Progress: progress,
		Stage:    strings.TrimSpace(wire.Stage),
		Status:   strings.TrimSpace(wire.Status),
		Results:  results,
		Error:    parseError(wire.Error),
		Stop:     wire.Stop,
		Report:   wire.Report,
	}
	return nil
}

func parseProgress(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampProgress(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("progress: %w", err)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("progress %q: %w", s, err)
	}
	return clampProgress(f), nil
}

func clampProgress(f float64) int {
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	default:
		return int(f)
	}
}

// parseError accepts a plain string or an object carrying message/error.
func parseError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return string(raw)
}
