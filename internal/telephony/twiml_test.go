package telephony

import (
	"strings"
	"testing"
)

func TestRenderStreamTwiML(t *testing.T) {
	xml, err := RenderStreamTwiML("wss://agent.example.com/media-stream", map[string]string{PhoneParam: "+15551234567"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		"<Response>",
		"<Connect>",
		`<Stream url="wss://agent.example.com/media-stream">`,
		`<Parameter name="phone" value="+15551234567">`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderStreamTwiMLRequiresURL(t *testing.T) {
	if _, err := RenderStreamTwiML(" ", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderSayTwiMLEscapes(t *testing.T) {
	xml, err := RenderSayTwiML(`Tom & "Jerry" <3`, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `voice="Polly.Joanna"`) {
		t.Fatalf("expected default voice: %s", xml)
	}
	if strings.Contains(xml, "<3") || !strings.Contains(xml, "Tom &amp;") {
		t.Fatalf("message not escaped: %s", xml)
	}
}

func TestRenderHangupTwiML(t *testing.T) {
	xml, err := RenderHangupTwiML()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("expected hangup verb: %s", xml)
	}
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		public, host, want string
	}{
		{"", "abc.ngrok.io", "wss://abc.ngrok.io/media-stream"},
		{"https://agent.example.com", "ignored", "wss://agent.example.com/media-stream"},
		{"https://agent.example.com/voice/", "ignored", "wss://agent.example.com/voice/media-stream"},
		{"http://localhost:3000", "ignored", "ws://localhost:3000/media-stream"},
	}
	for _, c := range cases {
		if got := StreamURL(c.public, c.host, DefaultStreamPath); got != c.want {
			t.Fatalf("StreamURL(%q, %q) = %q, want %q", c.public, c.host, got, c.want)
		}
	}
}
