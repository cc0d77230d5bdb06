package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Search type markers carried by search tool envelopes.
const (
	SearchTypeHotel     = "HOTEL"
	SearchTypeFlight    = "FLIGHT"
	SearchTypePackage   = "PACKAGE"
	SearchTypeItinerary = "ITINERARY"
)

const envelopeSource = "rag_search"

// Envelope is the uniform result shape of every tool invocation.
type Envelope struct {
	Text           string   `json:"text"`
	SearchType     string   `json:"search_type"`
	EndPrompt      bool     `json:"end_prompt"`
	Table          bool     `json:"table"`
	Data           any      `json:"data"`
	Graph          bool     `json:"graph"`
	GraphType      []string `json:"graph_type"`
	GraphTitle     string   `json:"graph_title"`
	IsDownloadable bool     `json:"is_downloadable"`
	Image          bool     `json:"image"`
	Video          bool     `json:"video"`
	Audio          bool     `json:"audio"`
	Button         bool     `json:"button"`
	PromptText     string   `json:"prompt_text"`
	ButtonText     []string `json:"button_text"`
	Source         string   `json:"source"`
	Timestamp      int64    `json:"timestamp"`
	Status         bool     `json:"status"`
	Error          string   `json:"error,omitempty"`
}

func newEnvelope(text string, status bool) Envelope {
	return Envelope{
		Text:       text,
		EndPrompt:  true,
		GraphType:  []string{},
		ButtonText: []string{},
		Source:     envelopeSource,
		Timestamp:  time.Now().UnixMilli(),
		Status:     status,
	}
}

// Success builds a status=true envelope.
func Success(text string, data any) Envelope {
	env := newEnvelope(text, true)
	env.Data = data
	return env
}

// Failure builds a status=false envelope. errMsg may be empty.
func Failure(text, errMsg string) Envelope {
	env := newEnvelope(text, false)
	env.Error = errMsg
	return env
}

// WithSearchType sets the search type marker.
func (e Envelope) WithSearchType(st string) Envelope {
	e.SearchType = st
	return e
}

// WithTable marks the data as tabular.
func (e Envelope) WithTable() Envelope {
	e.Table = true
	return e
}

// JSON encodes the envelope. Data that cannot be encoded is replaced by a failure envelope.
func (e Envelope) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		b, _ = json.Marshal(Failure("Failed to encode tool response.", err.Error()))
	}
	return string(b)
}

// ParseEnvelope decodes content as an envelope. It reports false when the
// content is not a JSON object carrying a "text" field.
func ParseEnvelope(content string) (*Envelope, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, false
	}
	if _, ok := fields["text"]; !ok {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, false
	}
	return &env, true
}
