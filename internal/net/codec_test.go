package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFramesSingleLine(t *testing.T) {
	buf, frames := AppendFrames(nil, []byte("{\"t\":1}\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "{\"t\":1}", string(frames[0]))
	assert.Empty(t, buf)
}

func TestAppendFramesChunkedReassembly(t *testing.T) {
	var buf []byte
	var frames [][]byte

	buf, frames = AppendFrames(buf, []byte("{\"t\":12,\"d\":{\"con"))
	assert.Empty(t, frames)
	require.NotEmpty(t, buf)

	buf, frames = AppendFrames(buf, []byte("tent\":\"hi\"}}\n{\"t\":1}"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"t":12,"d":{"content":"hi"}}`, string(frames[0]))

	buf, frames = AppendFrames(buf, []byte("\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"t":1}`, string(frames[0]))
	assert.Empty(t, buf)
}

func TestAppendFramesMultiplePerChunk(t *testing.T) {
	_, frames := AppendFrames(nil, []byte("{\"t\":1}\n{\"t\":2}\n{\"t\":3}\n"))
	require.Len(t, frames, 3)
	assert.Equal(t, `{"t":2}`, string(frames[1]))
}

func TestAppendFramesStripsCR(t *testing.T) {
	_, frames := AppendFrames(nil, []byte("{\"t\":1}\r\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"t":1}`, string(frames[0]))
}

func TestAppendFramesSkipsBlankLines(t *testing.T) {
	_, frames := AppendFrames(nil, []byte("\n  \n{\"t\":1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"t":1}`, string(frames[0]))
}

func TestAppendFramesCopiesData(t *testing.T) {
	chunk := []byte("{\"t\":1}\n")
	_, frames := AppendFrames(nil, chunk)
	require.Len(t, frames, 1)

	// Mutating the source chunk must not corrupt an already returned frame.
	for i := range chunk {
		chunk[i] = 'x'
	}
	assert.Equal(t, `{"t":1}`, string(frames[0]))
}
