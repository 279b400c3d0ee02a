package thor

import (
	"os"
	"strings"
)

// TailWindow bounds how far back LastLine looks in a growing log, so a
// long scan never pays for re-reading the whole file.
const TailWindow = 4096

// hitMarker is the text-log marker counted as one rule hit.
const hitMarker = "yara rule"

// LastLine returns the last non-blank line within the final TailWindow
// bytes of the file, empty when the file is missing or blank.
func LastLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return ""
	}
	readSize := info.Size()
	if readSize > TailWindow {
		readSize = TailWindow
	}
	buf := make([]byte, readSize)
	if _, err := f.ReadAt(buf, info.Size()-readSize); err != nil {
		return ""
	}

	lines := strings.Split(string(buf), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// Cursor tracks how far the text log has been consumed. The offset only
// advances, so a hit is never counted twice across reads.
type Cursor struct {
	offset int64
}

func (c *Cursor) Offset() int64 {
	return c.offset
}

// ConsumeHits reads the bytes appended since the previous call and
// returns the number of rule-hit markers in them. An unreadable or
// truncated-short file yields zero without moving the cursor forward
// past its size.
func (c *Cursor) ConsumeHits(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil || info.Size() <= c.offset {
		return 0
	}

	buf := make([]byte, info.Size()-c.offset)
	n, err := f.ReadAt(buf, c.offset)
	if n == 0 && err != nil {
		return 0
	}
	c.offset += int64(n)
	return strings.Count(strings.ToLower(string(buf[:n])), hitMarker)
}
