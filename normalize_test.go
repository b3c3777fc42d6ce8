package lecturequiz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"dashed page marker", "--- Page 3 ---\nSorting is stable.", "Sorting is stable."},
		{"page of marker", "Heaps are trees. Page 2 of 10", "Heaps are trees."},
		{"page line", "Intro\nPage 7\nBody", "Intro\n\nBody"},
		{"page word inside sentence kept", "This page 4 example stays", "This page 4 example stays"},
		{"control characters", "a\x00b\x07c\td", "abc\td"},
		{"crlf", "line one\r\nline two", "line one\nline two"},
		{"blank line run", "one\n\n\n\n\ntwo", "one\n\ntwo"},
		{"whitespace only lines collapse", "one\n  \n\t\n\ntwo", "one\n\ntwo"},
		{"space run", "too    many   spaces", "too many spaces"},
		{"private use bullets", "\uf0b7First point\n\uf0a7Second", "First point\nSecond"},
		{"non breaking space", "a\u00a0 b", "a b"},
		{"trailing whitespace", "  text with tail   \n  ", "text with tail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeTextIsIdempotent(t *testing.T) {
	raw := "--- Page 1 ---\r\nA  greedy\x01 algorithm\n\n\n\nmakes choices."
	once := NormalizeText(raw)
	assert.Equal(t, once, NormalizeText(once))
}
