package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"underscores", "stake_usage", "stake\\_usage"},
		{"punctuation", "Sync failed: timeout.", "Sync failed: timeout\\."},
		{"brackets and parens", "[b1] (merged)", "\\[b1\\] \\(merged\\)"},
		{"dashes and numbers", "13/11 14:00 -5", "13/11 14:00 \\-5"},
		{"already escaped stays literal", "a\\.b", "a\\\\.b"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeMarkdownV2(tt.input))
		})
	}
}
