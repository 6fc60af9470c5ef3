package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/brdge-ai/playersync/pkg/player/transcript"
)

func TestEncodePosition_Envelope(t *testing.T) {
	data, err := EncodePosition(transcript.Position{
		Read:      []string{"Hello"},
		Remaining: []string{"World"},
	})
	if err != nil {
		t.Fatalf("EncodePosition: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["transcript_position"]; !ok {
		t.Fatalf("missing transcript_position key: %s", data)
	}
}

func TestEncodeConfig_Envelope(t *testing.T) {
	data, err := EncodeConfig(AgentConfig{
		Personality: "curious",
		KnowledgeBase: []KnowledgeEntry{
			{ID: "k1", Type: "note", Name: "intro", Content: "hi"},
		},
		UserID:  "u1",
		BrdgeID: "b1",
	})
	if err != nil {
		t.Fatalf("EncodeConfig: %v", err)
	}

	want := []string{`"agent_config"`, `"personality":"curious"`, `"knowledgeBase"`, `"user_id":"u1"`, `"brdge_id":"b1"`}
	for _, fragment := range want {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("encoded config missing %s: %s", fragment, data)
		}
	}
}

func TestEncodeSlideUpdate_ForcesType(t *testing.T) {
	data, err := EncodeSlideUpdate(SlideUpdate{BrdgeID: "b1", NumSlides: 4, CurrentSlide: 2})
	if err != nil {
		t.Fatalf("EncodeSlideUpdate: %v", err)
	}

	var decoded SlideUpdate
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != SlideUpdateType {
		t.Fatalf("type=%q, want %q", decoded.Type, SlideUpdateType)
	}
	if decoded.CurrentSlide != 2 {
		t.Fatalf("currentSlide=%d, want 2", decoded.CurrentSlide)
	}
}

func TestDecodeViewerMessage_Hello(t *testing.T) {
	msg, err := DecodeViewerMessage([]byte(`{"type":"hello","protocol_version":"1","brdge_id":"b1"}`))
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	hello, ok := msg.(ViewerHello)
	if !ok {
		t.Fatalf("decoded %T, want ViewerHello", msg)
	}
	if hello.BrdgeID != "b1" {
		t.Fatalf("brdge_id=%q, want b1", hello.BrdgeID)
	}
}

func TestDecodeViewerMessage_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{"type":`},
		{"missing type", `{}`},
		{"unknown type", `{"type":"mystery"}`},
		{"hello without brdge_id", `{"type":"hello","protocol_version":"1"}`},
		{"negative tick", `{"type":"playback_tick","current_time":-1}`},
		{"slide below one", `{"type":"slide_change","slide":0}`},
		{"edit without instruction", `{"type":"edit_start","slide":1,"edit_speech":true}`},
		{"edit without targets", `{"type":"edit_start","slide":1,"instruction":"rewrite"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeViewerMessage([]byte(tc.data)); err == nil {
				t.Fatalf("decode %s: want error", tc.data)
			}
		})
	}
}

func TestDecodeViewerMessage_PlaybackTick(t *testing.T) {
	msg, err := DecodeViewerMessage([]byte(`{"type":"playback_tick","current_time":3.25,"duration":10}`))
	if err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	tick, ok := msg.(PlaybackTick)
	if !ok {
		t.Fatalf("decoded %T, want PlaybackTick", msg)
	}
	if tick.CurrentTime != 3.25 {
		t.Fatalf("current_time=%v, want 3.25", tick.CurrentTime)
	}
}

func TestDecodeViewerMessage_EditStart(t *testing.T) {
	msg, err := DecodeViewerMessage([]byte(`{"type":"edit_start","slide":2,"instruction":"shorter","edit_speech":true,"edit_knowledge":false}`))
	if err != nil {
		t.Fatalf("decode edit_start: %v", err)
	}
	edit, ok := msg.(EditStart)
	if !ok {
		t.Fatalf("decoded %T, want EditStart", msg)
	}
	if !edit.EditSpeech || edit.EditKnowledge {
		t.Fatalf("targets speech=%v knowledge=%v, want true/false", edit.EditSpeech, edit.EditKnowledge)
	}
}

func TestDecodeError_Error(t *testing.T) {
	err := badRequest("bad thing", "field")
	if got := err.Error(); got != "bad thing (field)" {
		t.Fatalf("Error()=%q", got)
	}
	bare := badRequest("bad thing", "")
	if got := bare.Error(); got != "bad thing" {
		t.Fatalf("Error()=%q", got)
	}
}
