package pdf

import "testing"

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "simple show",
			content: "BT /F1 12 Tf 72 720 Td (Hello world) Tj ET",
			want:    "Hello world",
		},
		{
			name:    "next line operators",
			content: "BT (first) Tj T* (second) Tj 0 -14 Td (third) Tj (fourth) ' ET",
			want:    "first\nsecond\nthird\nfourth",
		},
		{
			name:    "kerning array",
			content: "BT [(Hel) 20 (lo) -300 (there)] TJ ET",
			want:    "Hello there",
		},
		{
			name:    "escapes and nesting",
			content: `BT (a \(b\) c \\ d (nested)) Tj ET`,
			want:    `a (b) c \ d (nested)`,
		},
		{
			name:    "octal escape",
			content: `BT (caf\351) Tj ET`,
			want:    "café",
		},
		{
			name:    "hex string",
			content: "BT <48656C6C6F> Tj ET",
			want:    "Hello",
		},
		{
			name:    "utf16 hex string",
			content: "BT <FEFF65E5672C> Tj ET",
			want:    "日本",
		},
		{
			name:    "ignores dictionaries and comments",
			content: "/P << /MCID 0 >> BDC % comment (hidden) Tj\nBT (shown) Tj ET EMC",
			want:    "shown",
		},
		{
			name:    "separate text objects",
			content: "BT (one) Tj ET BT (two) Tj ET",
			want:    "one\ntwo",
		},
		{
			name:    "inline image skipped",
			content: "BI /W 1 /H 1 ID \x00\x01(x) EI BT (after) Tj ET",
			want:    "after",
		},
		{
			name:    "no text",
			content: "0 0 m 100 100 l S",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText([]byte(tt.content)); got != tt.want {
				t.Fatalf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}
