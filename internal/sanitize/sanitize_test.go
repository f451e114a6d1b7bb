package sanitize

import "testing"

func TestText_StripsMarkup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello there", "hello there"},
		{"script tag", "<script>alert(1)</script>hi", "hi"},
		{"inline handler", `<img src=x onerror=alert(1)>ok`, "ok"},
		{"formatting stripped", "<b>bold</b> move", "bold move"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"entities decoded", "a &amp; b", "a & b"},
		{"angle brackets survive as text", "1 < 2 and 3 > 2", "1 < 2 and 3 > 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
