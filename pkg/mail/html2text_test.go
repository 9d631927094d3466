package mail

import (
	"strings"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"simple tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTMLToText(tt.html)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTMLToTextCollapsesBlankLines(t *testing.T) {
	got := HTMLToText("first<br/><br/><br/><br/><br/>last")

	if !strings.HasPrefix(got, "first") || !strings.HasSuffix(got, "last") {
		t.Fatalf("Expected content to be preserved, got %q", got)
	}
	// At most two consecutive blank lines survive
	if strings.Contains(strings.ReplaceAll(got, "\r", ""), "\n\n\n\n") {
		t.Errorf("Expected blank lines to be collapsed, got %q", got)
	}
}
