package validation

import (
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		hasFiles bool
		wantErr  bool
	}{
		{"normal content", "hello there", false, false},
		{"empty content without files", "", false, true},
		{"empty content with files is allowed", "", true, false},
		{"content exactly at the limit", strings.Repeat("a", MaxContentBytes), false, false},
		{"content over the limit", strings.Repeat("a", MaxContentBytes+1), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content, tt.hasFiles)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdempotencyKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty key is valid", "", false},
		{"short key is valid", "req-123", false},
		{"key at the limit", strings.Repeat("k", 128), false},
		{"key over the limit", strings.Repeat("k", 129), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdempotencyKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdempotencyKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractMentionTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []ParsedMention
	}{
		{
			name:    "no mentions",
			content: "just a regular message",
			want:    []ParsedMention{},
		},
		{
			name:    "everyone and here",
			content: "@everyone please look, cc @here",
			want: []ParsedMention{
				{Raw: "everyone", Everyone: true},
				{Raw: "here", Here: true},
			},
		},
		{
			name:    "username mention",
			content: "hey @alice.smith can you check this",
			want:    []ParsedMention{{Raw: "alice.smith"}},
		},
		{
			name:    "duplicate mentions collapse to one",
			content: "@bob @bob @bob",
			want:    []ParsedMention{{Raw: "bob"}},
		},
		{
			name:    "mention preserves original casing but dedupes case-insensitively",
			content: "@Alice @alice",
			want:    []ParsedMention{{Raw: "Alice"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentionTokens(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractMentionTokens() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
