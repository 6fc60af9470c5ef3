package protocol

import (
	"encoding/json"
	"strings"
)

// Viewer websocket frames. The browser player opens /v1/viewer, sends a
// hello, then drives the session with playback ticks, slide changes, edit
// commands, history navigation, and saves. The gateway answers with content
// snapshots, streamed edit tokens, results, and errors.

type HelloClient struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type ViewerHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	BrdgeID         string      `json:"brdge_id"`
	Client          HelloClient `json:"client,omitempty"`
}

// PlaybackTick reports the playback element's current position. Sent on
// every time update, possibly several times per second.
type PlaybackTick struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration,omitempty"`
}

type SlideChange struct {
	Type     string `json:"type"`
	Slide    int    `json:"slide"`
	SlideURL string `json:"slide_url,omitempty"`
}

type EditStart struct {
	Type          string `json:"type"`
	Slide         int    `json:"slide"`
	Instruction   string `json:"instruction"`
	EditSpeech    bool   `json:"edit_speech"`
	EditKnowledge bool   `json:"edit_knowledge"`
}

type EditCancel struct {
	Type string `json:"type"`
}

type HistoryStep struct {
	Type string `json:"type"` // "undo" or "redo"
}

type SaveRequest struct {
	Type string `json:"type"`
}

// DecodeViewerMessage parses one client frame, validating the fields the
// session loop relies on.
func DecodeViewerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ViewerHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if strings.TrimSpace(msg.BrdgeID) == "" {
			return nil, badRequest("hello.brdge_id is required", "brdge_id")
		}
		return msg, nil
	case "playback_tick":
		var msg PlaybackTick
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback_tick", "")
		}
		if msg.CurrentTime < 0 {
			return nil, badRequest("playback_tick.current_time must be >= 0", "current_time")
		}
		return msg, nil
	case "slide_change":
		var msg SlideChange
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid slide_change", "")
		}
		if msg.Slide < 1 {
			return nil, badRequest("slide_change.slide must be >= 1", "slide")
		}
		return msg, nil
	case "edit_start":
		var msg EditStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid edit_start", "")
		}
		if strings.TrimSpace(msg.Instruction) == "" {
			return nil, badRequest("edit_start.instruction is required", "instruction")
		}
		if !msg.EditSpeech && !msg.EditKnowledge {
			return nil, badRequest("edit_start requires at least one target", "edit_speech")
		}
		return msg, nil
	case "edit_cancel":
		var msg EditCancel
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid edit_cancel", "")
		}
		return msg, nil
	case "undo", "redo":
		var msg HistoryStep
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid history frame", "")
		}
		return msg, nil
	case "save":
		var msg SaveRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid save frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported frame type", "type")
	}
}

// Server frames sent back to the viewer.

// ServerHelloAck confirms the handshake and names the session.
type ServerHelloAck struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	BrdgeID         string `json:"brdge_id"`
}

// ServerContent is a snapshot of the active segment's editable buffers plus
// the history cursor bounds.
type ServerContent struct {
	Type    string `json:"type"`
	Slide   int    `json:"slide"`
	Script  string `json:"script"`
	Agent   string `json:"agent"`
	CanUndo bool   `json:"can_undo"`
	CanRedo bool   `json:"can_redo"`
}

// ServerEditToken is one streamed token of an in-flight AI edit.
type ServerEditToken struct {
	Type   string `json:"type"`
	Target string `json:"target"` // "script" or "agent"
	Token  string `json:"token"`
}

// ServerEditResult reports the fields committed at the end of an edit. A nil
// field was not committed (target disabled or absent from the final frame).
type ServerEditResult struct {
	Type   string  `json:"type"`
	Slide  int     `json:"slide"`
	Script *string `json:"script,omitempty"`
	Agent  *string `json:"agent,omitempty"`
}

type ServerSaved struct {
	Type  string `json:"type"`
	Slide int    `json:"slide"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func NewServerHelloAck(sessionID, brdgeID string) ServerHelloAck {
	return ServerHelloAck{Type: "hello_ack", ProtocolVersion: ProtocolVersion1, SessionID: sessionID, BrdgeID: brdgeID}
}

func NewServerContent(slide int, script, agent string, canUndo, canRedo bool) ServerContent {
	return ServerContent{Type: "content", Slide: slide, Script: script, Agent: agent, CanUndo: canUndo, CanRedo: canRedo}
}

func NewServerEditToken(target, token string) ServerEditToken {
	return ServerEditToken{Type: "edit_token", Target: target, Token: token}
}

func NewServerEditResult(slide int, script, agent *string) ServerEditResult {
	return ServerEditResult{Type: "edit_result", Slide: slide, Script: script, Agent: agent}
}

func NewServerSaved(slide int) ServerSaved {
	return ServerSaved{Type: "saved", Slide: slide}
}

func NewServerError(code, message, param string) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Param: param}
}
