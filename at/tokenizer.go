package at

import (
	"bufio"
	"strings"
)

// BufferQuantum is the initial capacity of line buffers handed to
// bufio.Scanner together with Splitter.
const BufferQuantum = 1024

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines end with CRLF. A CR that is not followed by LF also ends a token: the
// modem echoes a command followed by a bare CR before it sends the CRLF that
// opens the result block, so the echo and the blank separator come out as two
// tokens. The Ctrl-Z that closes an inline body is kept at the end of its token
// because the executor waits for it.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i, b := range data {
		switch b {
		case '\r':
			if i+1 == len(data) {
				if atEOF {
					return len(data), data[:i], nil
				}
				// Need one more byte to tell CRLF from a bare CR
				return 0, nil, nil
			}
			if data[i+1] == '\n' {
				return i + len(CRLF), data[:i], nil
			}
			return i + len(CR), data[:i], nil

		case CtrlZ[0]:
			return i + 1, data[:i+1], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == "" {
		return TypeEmpty
	}
	if IsTerminal(line) {
		return TypeFinal
	}
	if tag, _, ok := SplitTag(line); ok {
		switch tag {
		case TagNewMessage, TagRegistration, TagGPRSRegistration, TagIndicator,
			TagUSSD, TagStorageOverflow, TagCallList:
			return TypeURC
		}
	}
	return TypeData
}

// SplitTag cuts line at the first ": " into a class tag and its
// comma-separated values. ok is false when the separator is missing or the
// tag would be empty.
func SplitTag(line string) (tag string, values []string, ok bool) {
	i := strings.Index(line, TagSeparator)
	if i <= 0 {
		return "", nil, false
	}
	return line[:i], strings.Split(line[i+len(TagSeparator):], ","), true
}

// Unquote returns the text between the first pair of double quotes in s, or
// s itself when it carries no opening quote.
func Unquote(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return s
	}
	rest := s[start+1:]
	if end := strings.IndexByte(rest, '"'); end >= 0 {
		return rest[:end]
	}
	return rest
}

// Quote wraps s in double quotes.
func Quote(s string) string {
	return `"` + s + `"`
}

// HasPrefix reports whether cmd carries the command marker anywhere, ignoring case.
func HasPrefix(cmd string) bool {
	return strings.Contains(strings.ToUpper(cmd), Prefix)
}
