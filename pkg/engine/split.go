package engine

import "strings"

// SplitStatements breaks text into top-level statements on semicolons that are
// not inside quotes, parentheses or comments. Quotes include dollar-quoted
// bodies ($$...$$, $tag$...$tag$) and E'...' strings with backslash escapes.
// Segments that hold only comments or whitespace are dropped.
func SplitStatements(text string) []string {
	var (
		stmts    []string
		cur      strings.Builder
		hasCode  bool
		depth    int
		inSingle bool
		escapes  bool
		inDouble bool
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && hasCode {
			stmts = append(stmts, s)
		}
		cur.Reset()
		hasCode = false
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inSingle {
			cur.WriteByte(c)
			if escapes && c == '\\' && i+1 < len(text) {
				cur.WriteByte(text[i+1])
				i++
			} else if c == '\'' && i+1 < len(text) && text[i+1] == '\'' {
				cur.WriteByte(text[i+1])
				i++
			} else if c == '\'' {
				inSingle = false
			}
			continue
		}
		if inDouble {
			cur.WriteByte(c)
			if c == '"' {
				inDouble = false
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text) - i
			}
			cur.WriteString(text[i : i+end])
			i += end - 1
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				cur.WriteString(text[i:])
				i = len(text)
				continue
			}
			cur.WriteString(text[i : i+2+end+2])
			i += 2 + end + 1
		case c == '\'':
			inSingle = true
			escapes = i > 0 && (text[i-1] == 'E' || text[i-1] == 'e') && (i < 2 || !isIdentByte(text[i-2]))
			hasCode = true
			cur.WriteByte(c)
		case c == '$' && (i == 0 || !isIdentByte(text[i-1])):
			hasCode = true
			tag := dollarTag(text[i:])
			if tag == "" {
				cur.WriteByte(c)
				continue
			}
			end := strings.Index(text[i+len(tag):], tag)
			if end < 0 {
				cur.WriteString(text[i:])
				i = len(text)
				continue
			}
			n := len(tag) + end + len(tag)
			cur.WriteString(text[i : i+n])
			i += n - 1
		case c == '"':
			inDouble = true
			hasCode = true
			cur.WriteByte(c)
		case c == '(':
			depth++
			hasCode = true
			cur.WriteByte(c)
		case c == ')':
			depth--
			cur.WriteByte(c)
		case c == ';' && depth <= 0:
			flush()
			depth = 0
		default:
			if !isSpace(c) {
				hasCode = true
			}
			cur.WriteByte(c)
		}
	}
	flush()

	return stmts
}

// dollarTag returns the opening $tag$ at the start of s, or "" when s does not
// open a dollar-quoted string. Tags follow identifier rules; $1 is a parameter.
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1]
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80:
		case c >= '0' && c <= '9' && j > 1:
		default:
			return ""
		}
	}
	return ""
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
