package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2Distance(t *testing.T) {
	d, err := L2Distance([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)

	d, err = L2Distance([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = L2Distance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
	_, err = L2Distance(nil, []float32{1})
	assert.Error(t, err)
}

func TestMarkdownToText(t *testing.T) {
	src := []byte("# Title\n\nHello *world* and `code`.\n\n```\nfmt.Println(1)\n```\n\n- first\n- second\n")

	got := MarkdownToText(src)

	assert.Equal(t, "Title\n\nHello world and code.\n\nfmt.Println(1)\n\nfirst\n\nsecond", got)
}

func TestMarkdownToTextPlainParagraphs(t *testing.T) {
	got := MarkdownToText([]byte("line one\nline two\n\nnext paragraph"))
	assert.Equal(t, "line one\nline two\n\nnext paragraph", got)
}
