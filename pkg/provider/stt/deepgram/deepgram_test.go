package deepgram

import (
	"net/url"
	"testing"

	"github.com/Sqrilizz/BixlandAI/pkg/provider/stt"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{SampleRate: 48000, Channels: 2, Language: "ru"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	q := u.Query()
	for key, want := range map[string]string{
		"model":            "nova-2",
		"language":         "ru",
		"encoding":         "linear16",
		"sample_rate":      "48000",
		"channels":         "2",
		"interim_results":  "true",
		"utterance_end_ms": "1500",
		"punctuate":        "true",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestBuildURLDefaults(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	raw, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("language") != "ru" || q.Get("sample_rate") != "48000" {
		t.Errorf("defaults not applied: %v", q)
	}
	if q.Has("channels") {
		t.Error("channels should be omitted when zero")
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New with empty key should fail")
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want stt.Transcript
		ok   bool
	}{
		{
			name: "final result",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"адриан привет","confidence":0.97}]}}`,
			want: stt.Transcript{Text: "адриан привет", IsFinal: true, Confidence: 0.97},
			ok:   true,
		},
		{
			name: "interim result",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"адр","confidence":0.4}]}}`,
			want: stt.Transcript{Text: "адр", Confidence: 0.4},
			ok:   true,
		},
		{
			name: "metadata ignored",
			raw:  `{"type":"Metadata"}`,
			ok:   false,
		},
		{
			name: "no alternatives ignored",
			raw:  `{"type":"Results","channel":{"alternatives":[]}}`,
			ok:   false,
		},
		{
			name: "garbage ignored",
			raw:  `not json`,
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseDeepgramResponse([]byte(tc.raw))
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
