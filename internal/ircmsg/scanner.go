package ircmsg

import (
	"bufio"
	"io"
	"strings"
)

// SplitLines is a bufio.SplitFunc that frames on CRLF, tolerating a lone LF
// per RFC leniency. The returned token excludes the line ending.
func SplitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := indexByte(data, '\n'); i >= 0 {
		end := i
		if end > 0 && data[end-1] == '\r' {
			end--
		}
		return i + 1, data[0:end], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// NewScanner wraps a bufio.Scanner configured to split on IRC line endings
// with a buffer large enough for the maximum possible line (tag prefix +
// legacy portion).
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxTagLength+MaxLineLength)
	sc.Split(SplitLines)
	return sc
}

// JoinForLog renders a message for debug logging with the line ending
// stripped and long trailing parameters left intact.
func JoinForLog(line string) string {
	return strings.TrimRight(line, "\r\n")
}
