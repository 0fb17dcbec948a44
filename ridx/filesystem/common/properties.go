package common

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Property is one key/value pair read from a properties style file
type Property struct {
	Key   string
	Value string
	Line  int
}

// ParseProperties reads key=value lines in the java.util.Properties
// dialect: '#' and '!' comments, '=' ':' or whitespace separators,
// backslash escapes and trailing-backslash continuations. Pairs are returned
// in file order.
func ParseProperties(r io.Reader) ([]Property, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out       []Property
		logical   strings.Builder
		startLine int
		lineNo    int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if logical.Len() == 0 {
			line = strings.TrimLeft(line, " \t\f")
			if line == "" || line[0] == '#' || line[0] == '!' {
				continue
			}
			startLine = lineNo
		} else {
			line = strings.TrimLeft(line, " \t\f")
		}

		if continues(line) {
			logical.WriteString(line[:len(line)-1])
			continue
		}
		logical.WriteString(line)
		key, value := splitProperty(logical.String())
		out = append(out, Property{Key: key, Value: value, Line: startLine})
		logical.Reset()
	}
	if logical.Len() > 0 {
		key, value := splitProperty(logical.String())
		out = append(out, Property{Key: key, Value: value, Line: startLine})
	}
	return out, scanner.Err()
}

// continues reports an odd number of trailing backslashes
func continues(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func splitProperty(line string) (string, string) {
	sep := -1
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' {
			i++
			continue
		}
		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return unescapeProperty(line), ""
	}
	key := line[:sep]
	rest := strings.TrimLeft(line[sep:], " \t\f")
	if rest != "" && (rest[0] == '=' || rest[0] == ':') && (line[sep] == ' ' || line[sep] == '\t' || line[sep] == '\f' || rest[0] == line[sep]) {
		rest = strings.TrimLeft(rest[1:], " \t\f")
	}
	return unescapeProperty(key), unescapeProperty(rest)
}

func unescapeProperty(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(r))
					i += 4
					continue
				}
			}
			b.WriteByte('u')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EscapeProperty escapes s for use as a properties key (isKey) or value
func EscapeProperty(s string, isKey bool) string {
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\f':
			b.WriteString(`\f`)
		case '=', ':':
			if isKey {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case '#', '!':
			if isKey && i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case ' ':
			if isKey || i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
