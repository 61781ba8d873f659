package sqldb

import (
	"errors"
)

var (
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
	ErrUnterminated       = errors.New("unterminated quoted string or comment")
)

// CountStatements returns the number of non-empty statements in query. It
// understands single-quoted strings (including E'' escapes), quoted
// identifiers, dollar quoting, line comments and nested block comments.
func CountStatements(query string) (int, error) {
	s := &scanner{input: query}
	count := 0
	pending := false
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case ch == ';':
			if pending {
				count++
			}
			pending = false
			s.pos++
			continue
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			s.pos++
			continue
		case ch == '-' && s.peek() == '-':
			s.skipLineComment()
			continue
		case ch == '/' && s.peek() == '*':
			if !s.skipBlockComment() {
				return 0, ErrUnterminated
			}
			continue
		}

		pending = true
		switch {
		case ch == '\'':
			if !s.skipString(s.escapePrefix()) {
				return 0, ErrUnterminated
			}
		case ch == '"':
			if !s.skipQuoted('"') {
				return 0, ErrUnterminated
			}
		case ch == '$' && !s.afterIdent():
			ok, isQuote := s.skipDollar()
			if isQuote && !ok {
				return 0, ErrUnterminated
			}
		default:
			s.pos++
		}
	}
	if pending {
		count++
	}
	return count, nil
}

// singleStatement fails unless query holds at most one statement.
func singleStatement(query string) error {
	n, err := CountStatements(query)
	if err != nil {
		return err
	}
	if n > 1 {
		return ErrMultipleStatements
	}
	return nil
}

type scanner struct {
	input string
	pos   int
}

func (s *scanner) peek() byte {
	if s.pos+1 >= len(s.input) {
		return 0
	}
	return s.input[s.pos+1]
}

func isIdentChar(ch byte) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch >= 0x80
}

func (s *scanner) afterIdent() bool {
	return s.pos > 0 && isIdentChar(s.input[s.pos-1])
}

// escapePrefix reports whether the quote at pos opens an E'' string.
func (s *scanner) escapePrefix() bool {
	if s.pos == 0 {
		return false
	}
	if p := s.input[s.pos-1]; p != 'e' && p != 'E' {
		return false
	}
	return s.pos == 1 || !isIdentChar(s.input[s.pos-2])
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.input) && s.input[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() bool {
	depth := 0
	for s.pos < len(s.input) {
		switch {
		case s.input[s.pos] == '/' && s.peek() == '*':
			depth++
			s.pos += 2
		case s.input[s.pos] == '*' && s.peek() == '/':
			depth--
			s.pos += 2
			if depth == 0 {
				return true
			}
		default:
			s.pos++
		}
	}
	return false
}

func (s *scanner) skipString(backslash bool) bool {
	s.pos++
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case backslash && ch == '\\':
			s.pos += 2
		case ch == '\'' && s.peek() == '\'':
			s.pos += 2
		case ch == '\'':
			s.pos++
			return true
		default:
			s.pos++
		}
	}
	return false
}

func (s *scanner) skipQuoted(quote byte) bool {
	s.pos++
	for s.pos < len(s.input) {
		if s.input[s.pos] == quote {
			if s.peek() == quote {
				s.pos += 2
				continue
			}
			s.pos++
			return true
		}
		s.pos++
	}
	return false
}

// skipDollar consumes a $tag$...$tag$ string. A $ that does not open a tag
// (such as a $1 parameter) is consumed alone and isQuote is false.
func (s *scanner) skipDollar() (ok, isQuote bool) {
	end := s.pos + 1
	if end < len(s.input) && s.input[end] >= '0' && s.input[end] <= '9' {
		s.pos++
		return true, false
	}
	for end < len(s.input) && s.input[end] != '$' && isIdentChar(s.input[end]) {
		end++
	}
	if end >= len(s.input) || s.input[end] != '$' {
		s.pos++
		return true, false
	}
	tag := s.input[s.pos : end+1]
	s.pos = end + 1
	for i := s.pos; i+len(tag) <= len(s.input); i++ {
		if s.input[i:i+len(tag)] == tag {
			s.pos = i + len(tag)
			return true, true
		}
	}
	s.pos = len(s.input)
	return false, true
}
