package database

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

type lexState int

const (
	stateNormal lexState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateBlockComment
	stateExecComment
)

// Splitter reads a SQL script one statement at a time. It understands
// quoted strings, backtick identifiers, "--", "#" and "/* */" comments,
// "/*! */" executable comments, which are kept, and DELIMITER directives.
// Lines are read whole, so arbitrarily long extended INSERTs are fine.
type Splitter struct {
	r         *bufio.Reader
	delimiter string
	state     lexState
	buf       strings.Builder
	pending   []string
	eof       bool
}

func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{r: bufio.NewReaderSize(r, 256*1024), delimiter: ";"}
}

// Next returns the next statement without its delimiter, or io.EOF.
func (s *Splitter) Next() (string, error) {
	for len(s.pending) == 0 {
		if s.eof {
			return "", io.EOF
		}
		if err := s.readLine(); err != nil {
			return "", err
		}
	}
	stmt := s.pending[0]
	s.pending = s.pending[1:]
	return stmt, nil
}

func (s *Splitter) readLine() error {
	line, err := s.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read script: %w", err)
	}
	if errors.Is(err, io.EOF) {
		s.eof = true
	}

	if line != "" {
		s.scan(line)
	}

	if s.eof {
		if s.state == stateSingleQuote || s.state == stateDoubleQuote || s.state == stateBacktick {
			return fmt.Errorf("script ends inside a quoted string")
		}
		s.emit()
	}
	return nil
}

func (s *Splitter) scan(line string) {
	if s.state == stateNormal && strings.TrimSpace(s.buf.String()) == "" {
		if delim, ok := parseDelimiter(line); ok {
			s.delimiter = delim
			return
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		next := byte(0)
		if i+1 < len(line) {
			next = line[i+1]
		}

		switch s.state {
		case stateNormal:
			switch {
			case strings.HasPrefix(line[i:], s.delimiter):
				s.emit()
				i += len(s.delimiter) - 1
			case c == '\'':
				s.state = stateSingleQuote
				s.buf.WriteByte(c)
			case c == '"':
				s.state = stateDoubleQuote
				s.buf.WriteByte(c)
			case c == '`':
				s.state = stateBacktick
				s.buf.WriteByte(c)
			case c == '#', c == '-' && next == '-' && (i+2 >= len(line) || isSpace(line[i+2])):
				s.buf.WriteByte('\n')
				return
			case c == '/' && next == '*' && i+2 < len(line) && line[i+2] == '!':
				s.state = stateExecComment
				s.buf.WriteString("/*!")
				i += 2
			case c == '/' && next == '*':
				s.state = stateBlockComment
				s.buf.WriteByte(' ')
				i++
			default:
				s.buf.WriteByte(c)
			}

		case stateSingleQuote, stateDoubleQuote, stateBacktick:
			quote := quoteChar(s.state)
			s.buf.WriteByte(c)
			switch {
			case c == '\\' && s.state != stateBacktick && next != 0:
				s.buf.WriteByte(next)
				i++
			case c == quote && next == quote:
				s.buf.WriteByte(next)
				i++
			case c == quote:
				s.state = stateNormal
			}

		case stateBlockComment:
			if c == '*' && next == '/' {
				s.state = stateNormal
				i++
			}

		case stateExecComment:
			s.buf.WriteByte(c)
			if c == '*' && next == '/' {
				s.buf.WriteByte('/')
				s.state = stateNormal
				i++
			}
		}
	}
}

func (s *Splitter) emit() {
	stmt := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if stmt != "" {
		s.pending = append(s.pending, stmt)
	}
}

func parseDelimiter(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "DELIMITER") {
		return "", false
	}
	return fields[1], true
}

func quoteChar(state lexState) byte {
	switch state {
	case stateSingleQuote:
		return '\''
	case stateDoubleQuote:
		return '"'
	default:
		return '`'
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
