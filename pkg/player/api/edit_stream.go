package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/brdge-ai/playersync/pkg/player/content"
)

// EditRequest parameterizes one streamed AI edit of a segment's content.
type EditRequest struct {
	Slide         int
	Instruction   string
	Current       content.Content
	EditSpeech    bool
	EditKnowledge bool
}

// The backend takes the current content as a JSON string, not a nested
// object.
type editRequestWire struct {
	SlideNumber    int    `json:"slideNumber"`
	Instruction    string `json:"instruction"`
	CurrentContent string `json:"currentContent"`
	EditSpeech     bool   `json:"editSpeech"`
	EditKnowledge  bool   `json:"editKnowledge"`
}

// FinalContent is the authoritative result the backend may send at the end
// of a stream. Absent fields stay nil.
type FinalContent struct {
	Script *string `json:"script,omitempty"`
	Agent  *string `json:"agent,omitempty"`
}

// EditFrame is one decoded frame of the edit stream: a token frame (Type
// "script" or "agent"), a final frame, or an error frame.
type EditFrame struct {
	Type  string        `json:"type,omitempty"`
	Token string        `json:"token,omitempty"`
	Final *FinalContent `json:"final,omitempty"`
	Error string        `json:"error,omitempty"`
}

// IsToken reports whether the frame carries a streamed token.
func (f EditFrame) IsToken() bool {
	return f.Type == "script" || f.Type == "agent"
}

// OpenEditStream starts a server-streamed edit request. The caller owns the
// returned stream and must Close it; cancelling ctx aborts the stream.
func (c *Client) OpenEditStream(ctx context.Context, brdgeID string, editReq EditRequest) (*EditStream, error) {
	current, err := json.Marshal(editReq.Current)
	if err != nil {
		return nil, fmt.Errorf("open edit stream: encode content: %w", err)
	}
	body, err := json.Marshal(editRequestWire{
		SlideNumber:    editReq.Slide,
		Instruction:    editReq.Instruction,
		CurrentContent: string(current),
		EditSpeech:     editReq.EditSpeech,
		EditKnowledge:  editReq.EditKnowledge,
	})
	if err != nil {
		return nil, fmt.Errorf("open edit stream: encode request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/brdges/%s/edit-script", brdgeID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open edit stream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open edit stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	return &EditStream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// EditStream reads SSE frames off an open edit response. Not safe for
// concurrent use.
type EditStream struct {
	reader *bufio.Reader
	body   io.Closer
}

// Next returns the next well-formed frame. Malformed frames are skipped, not
// fatal. io.EOF marks the completion sentinel or the end of the stream.
func (s *EditStream) Next() (EditFrame, error) {
	for {
		payload, err := s.nextPayload()
		if err != nil {
			return EditFrame{}, err
		}

		var frame EditFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Error != "" || frame.Final != nil || frame.IsToken() {
			return frame, nil
		}
		// Unknown frame shape: skip.
	}
}

func (s *EditStream) nextPayload() ([]byte, error) {
	var data bytes.Buffer

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() == 0 {
				if err == io.EOF {
					return nil, io.EOF
				}
				continue
			}
			return s.finishPayload(data.Bytes())
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
		}

		if err == io.EOF {
			if data.Len() == 0 {
				return nil, io.EOF
			}
			return s.finishPayload(data.Bytes())
		}
	}
}

func (s *EditStream) finishPayload(payload []byte) ([]byte, error) {
	if strings.TrimSpace(string(payload)) == "[DONE]" {
		return nil, io.EOF
	}
	return payload, nil
}

func (s *EditStream) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
