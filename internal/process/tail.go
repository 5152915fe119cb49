// SPDX-License-Identifier: MPL-2.0

package process

import (
	"bytes"
	"sync"
)

// tailBuffer keeps the last n lines written to it. It is safe for the
// concurrent writes exec performs when stdout and stderr are separate pipes.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   [][]byte
	partial []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := p
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			t.partial = append(t.partial, data...)
			break
		}
		line := make([]byte, 0, len(t.partial)+i)
		line = append(line, t.partial...)
		line = append(line, data[:i]...)
		t.partial = t.partial[:0]
		t.push(line)
		data = data[i+1:]
	}
	return len(p), nil
}

func (t *tailBuffer) push(line []byte) {
	t.lines = append(t.lines, line)
	if t.max > 0 && len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// String returns the retained lines, newline-terminated. An unterminated
// final line counts toward the limit.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if len(t.partial) > 0 {
		lines = append(lines[:len(lines):len(lines)], t.partial)
	}
	if t.max > 0 && len(lines) > t.max {
		lines = lines[len(lines)-t.max:]
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.String()
}
