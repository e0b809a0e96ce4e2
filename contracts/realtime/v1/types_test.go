package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{}`)

	cases := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{
			name: "valid hello",
			env:  Envelope{V: Version, Type: TypeHello, ID: "e1", TS: now, Payload: payload},
		},
		{
			name:    "missing version",
			env:     Envelope{Type: TypeHello},
			wantErr: "missing field: v",
		},
		{
			name:    "wrong version",
			env:     Envelope{V: "v2", Type: TypeHello},
			wantErr: "unsupported protocol version",
		},
		{
			name:    "missing type",
			env:     Envelope{V: Version},
			wantErr: "missing field: type",
		},
		{
			name:    "unknown type",
			env:     Envelope{V: Version, Type: "subscribe"},
			wantErr: "unknown type",
		},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: got err=%v want contains %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestMessageBodyValidate(t *testing.T) {
	t.Parallel()

	file := &FileInfo{Filename: "a.png", FileURL: "/uploads/a.png"}
	loc := &Location{Latitude: 52.52, Longitude: 13.405}

	cases := []struct {
		name string
		body MessageBody
		ok   bool
	}{
		{name: "text", body: MessageBody{Kind: KindText, Text: "hi"}, ok: true},
		{name: "emoji", body: MessageBody{Kind: KindEmoji, Text: ":wave:"}, ok: true},
		{name: "empty text", body: MessageBody{Kind: KindText}, ok: false},
		{name: "text with attachment", body: MessageBody{Kind: KindText, Text: "hi", FileInfo: file}, ok: false},
		{name: "image", body: MessageBody{Kind: KindImage, FileInfo: file}, ok: true},
		{name: "image without file", body: MessageBody{Kind: KindImage}, ok: false},
		{name: "file without url", body: MessageBody{Kind: KindFile, FileInfo: &FileInfo{Filename: "x"}}, ok: false},
		{name: "audio", body: MessageBody{Kind: KindAudio, FileInfo: file, Media: &Media{DurationSec: 12}}, ok: true},
		{name: "location", body: MessageBody{Kind: KindLocation, Location: loc}, ok: true},
		{name: "location out of range", body: MessageBody{Kind: KindLocation, Location: &Location{Latitude: 100}}, ok: false},
		{name: "location with file", body: MessageBody{Kind: KindLocation, Location: loc, FileInfo: file}, ok: false},
		{name: "missing kind", body: MessageBody{}, ok: false},
		{name: "unknown kind", body: MessageBody{Kind: "sticker"}, ok: false},
	}

	for _, tc := range cases {
		err := tc.body.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
	}
}
