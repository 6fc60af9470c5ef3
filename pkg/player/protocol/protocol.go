// Package protocol defines the wire formats used by the player gateway: the
// envelopes published to the remote agent over the data channel, and the
// frames exchanged with the browser viewer over its websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brdge-ai/playersync/pkg/player/transcript"
)

const (
	ProtocolVersion1 = "1"

	// SlideUpdateType is the discriminator the presentation side uses for
	// slide envelopes on the agent channel.
	SlideUpdateType = "SLIDE_UPDATE"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// KnowledgeEntry is one knowledge-base record carried in the agent config
// snapshot.
type KnowledgeEntry struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// AgentConfig is the behavior snapshot published once per agent connection.
type AgentConfig struct {
	Personality   string           `json:"personality"`
	KnowledgeBase []KnowledgeEntry `json:"knowledgeBase"`
	UserID        string           `json:"user_id"`
	BrdgeID       string           `json:"brdge_id"`
}

// PositionEnvelope wraps a transcript position for the agent channel.
type PositionEnvelope struct {
	TranscriptPosition transcript.Position `json:"transcript_position"`
}

// ConfigEnvelope wraps the agent config snapshot for the agent channel.
type ConfigEnvelope struct {
	AgentConfig AgentConfig `json:"agent_config"`
}

// SlideUpdate tells the agent which slide the viewer is looking at.
type SlideUpdate struct {
	Type         string `json:"type"`
	BrdgeID      string `json:"brdgeId"`
	NumSlides    int    `json:"numSlides"`
	APIBaseURL   string `json:"apiBaseUrl"`
	CurrentSlide int    `json:"currentSlide"`
	SlideURL     string `json:"slideUrl,omitempty"`
	AgentType    string `json:"agentType,omitempty"`
}

// EncodePosition serializes a transcript_position envelope.
func EncodePosition(pos transcript.Position) ([]byte, error) {
	return json.Marshal(PositionEnvelope{TranscriptPosition: pos})
}

// EncodeConfig serializes an agent_config envelope.
func EncodeConfig(cfg AgentConfig) ([]byte, error) {
	return json.Marshal(ConfigEnvelope{AgentConfig: cfg})
}

// EncodeSlideUpdate serializes a SLIDE_UPDATE envelope, forcing the type
// discriminator.
func EncodeSlideUpdate(upd SlideUpdate) ([]byte, error) {
	upd.Type = SlideUpdateType
	return json.Marshal(upd)
}
