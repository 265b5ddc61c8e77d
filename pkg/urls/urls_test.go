package urls_test

import (
	"testing"

	"tunegrab/pkg/urls"
)

func TestIsVideoReference(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"check this YOUTU.BE/abc", true},
		{"https://vimeo.com/123", false},
		{"hello", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := urls.IsVideoReference(tt.raw); got != tt.want {
			t.Errorf("IsVideoReference(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestFindVideoURL(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{name: "bare link", text: "https://youtu.be/abc", want: "https://youtu.be/abc", wantOK: true},
		{name: "link in sentence", text: "listen to this: https://www.youtube.com/watch?v=xyz please", want: "https://www.youtube.com/watch?v=xyz", wantOK: true},
		{name: "scheme missing", text: "youtu.be/abc", want: "https://youtu.be/abc", wantOK: true},
		{name: "wrapped in brackets", text: "(https://youtu.be/abc)", want: "https://youtu.be/abc", wantOK: true},
		{name: "other host", text: "https://example.com/watch", wantOK: false},
		{name: "empty", text: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := urls.FindVideoURL(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("FindVideoURL(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}

			if got != tt.want {
				t.Fatalf("FindVideoURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsURLValid(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://youtu.be/abc", true},
		{"http://youtube.com", true},
		{"ftp://youtube.com", false},
		{"youtube.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := urls.IsURLValid(tt.raw); got != tt.want {
			t.Errorf("IsURLValid(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
