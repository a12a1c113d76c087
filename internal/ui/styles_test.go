package ui

import (
	"testing"
	"time"
)

func TestRenderWithoutColor(t *testing.T) {
	DisableColor()

	tests := []struct {
		name string
		fn   func(string) string
	}{
		{"accent", RenderAccent},
		{"pass", RenderPass},
		{"warn", RenderWarn},
		{"fail", RenderFail},
		{"muted", RenderMuted},
	}
	for _, tt := range tests {
		if got := tt.fn("x"); got != "x" {
			t.Errorf("%s(x) = %q, want plain text", tt.name, got)
		}
	}
}

func TestKeyValues(t *testing.T) {
	DisableColor()

	got := KeyValues([2]string{"Path", "a.db"}, [2]string{"Documents", "3"})
	want := "Path:      a.db\nDocuments: 3\n"
	if got != want {
		t.Errorf("KeyValues() = %q, want %q", got, want)
	}
}

func TestHumanFormats(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Bytes(0), "0 B"},
		{Bytes(-5), "0 B"},
		{Bytes(4200), "4.2 kB"},
		{Count(1234567), "1,234,567"},
		{Ago(time.Now().Add(-3 * time.Hour)), "3 hours ago"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
