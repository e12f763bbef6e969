package net

import "bytes"

// AppendFrames appends chunk to the per-connection accumulator, extracts
// every complete line-feed-terminated frame, and returns the remaining
// buffer plus the extracted frames. Frames are copies, so the accumulator
// may be reused by the caller. Empty or whitespace-only segments are
// dropped, which tolerates keepalive noise such as stray CRLFs.
func AppendFrames(buf, chunk []byte) ([]byte, [][]byte) {
	buf = append(buf, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			frame := make([]byte, len(line))
			copy(frame, line)
			frames = append(frames, frame)
		}
		buf = buf[i+1:]
	}

	if len(buf) == 0 {
		return nil, frames
	}
	// Compact so a finished jumbo frame does not pin its backing array.
	if len(frames) > 0 {
		rest := make([]byte, len(buf))
		copy(rest, buf)
		return rest, frames
	}
	return buf, frames
}
