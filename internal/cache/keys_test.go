package cache

import (
	"strings"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello!", "hello"},
		{"  Hello,   WORLD?? ", "hello world"},
		{"¿Quién eres?", "quién eres"},
		{"what's up :)", "whats up"},
		{"", ""},
		{"\t\n", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResponseKeySeparatesChannelAndLanguage(t *testing.T) {
	keys := map[string]bool{}
	for _, ch := range []string{"phone", "chat"} {
		for _, lang := range []string{"en", "es"} {
			k := ResponseKey("Hello!", ch, lang)
			if keys[k] {
				t.Fatalf("collision for %s/%s: %s", ch, lang, k)
			}
			keys[k] = true
		}
	}
	if ResponseKey("Hello!", "phone", "en") != ResponseKey("hello", "phone", "en") {
		t.Error("normalized variants should share a key")
	}
}

func TestAudioAndTranscriptKeys(t *testing.T) {
	if AudioKey("One moment.", "en") == AudioKey("One moment.", "es") {
		t.Error("audio keys must differ by language")
	}
	if AudioKey("One moment.", "en") != AudioKey("one moment", "en") {
		t.Error("audio keys should normalize text")
	}
	k := TranscriptKey("https://api.twilio.com/rec/RE1")
	if !strings.HasPrefix(k, "stt:") || len(k) != len("stt:")+64 {
		t.Errorf("TranscriptKey = %q", k)
	}
}
