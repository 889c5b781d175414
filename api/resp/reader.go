package resp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Reader decodes RESP values from a byte stream. It accepts both RESP arrays
// and the inline form redis-cli uses for simple commands ("SET k v\r\n").
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, defaultBufferSize)}
}

// ReadValue blocks until one complete value is available. Blank inline lines
// are skipped.
func (r *Reader) ReadValue() (Value, error) {
	for {
		v, err := r.readValue(0)
		if err == errEmptyInline {
			continue
		}
		return v, err
	}
}

// ReadCommand reads the next value and converts it to an argument list.
func (r *Reader) ReadCommand() ([]string, error) {
	v, err := r.ReadValue()
	if err != nil {
		return nil, err
	}
	return v.Command()
}

func (r *Reader) readValue(depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrProtocol, maxNestingDepth)
	}
	prefix, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch Type(prefix) {
	case SimpleString, Error:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Type(prefix), Str: line}, nil

	case Integer:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line)
		}
		return Int(n), nil

	case BulkString:
		n, err := r.readLength(maxBulkLength)
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return NullBulk(), nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return Value{}, err
		}
		if buf[n] != '\r' || buf[n+1] != '\n' {
			return Value{}, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocol)
		}
		return Bulk(string(buf[:n])), nil

	case Array:
		n, err := r.readLength(maxArrayLength)
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return Value{Type: Array, Null: true}, nil
		}
		elems := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			el, err := r.readValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, el)
		}
		return Value{Type: Array, Array: elems}, nil

	default:
		if depth > 0 {
			return Value{}, fmt.Errorf("%w: unexpected byte %q inside array", ErrProtocol, prefix)
		}
		if err := r.br.UnreadByte(); err != nil {
			return Value{}, err
		}
		return r.readInline()
	}
}

// readLine returns the line without its CRLF. A bare LF is accepted.
func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxInlineLength {
		return "", fmt.Errorf("%w: line too long", ErrProtocol)
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func (r *Reader) readLength(limit int) (int, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < -1 {
		return 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, line)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: length %d exceeds limit %d", ErrProtocol, n, limit)
	}
	return n, nil
}

func (r *Reader) readInline() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	parts, err := SplitInline(line)
	if err != nil {
		return Value{}, err
	}
	if len(parts) == 0 {
		return Value{}, errEmptyInline
	}
	elems := make([]Value, len(parts))
	for i, p := range parts {
		elems[i] = Bulk(p)
	}
	return Value{Type: Array, Array: elems}, nil
}

// SplitInline splits a command line on whitespace, keeping double-quoted
// segments together. Inside quotes \" and \\ are unescaped.
func SplitInline(line string) ([]string, error) {
	var (
		parts   []string
		cur     strings.Builder
		inQuote bool
		hasTok  bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			i++
		case c == '"':
			inQuote = !inQuote
			hasTok = true
		case !inQuote && (c == ' ' || c == '\t'):
			if hasTok {
				parts = append(parts, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteByte(c)
			hasTok = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unbalanced quotes in inline command", ErrProtocol)
	}
	if hasTok {
		parts = append(parts, cur.String())
	}
	return parts, nil
}
