package resp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Writer encodes RESP values. Output is buffered until Flush.
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, defaultBufferSize)}
}

func (w *Writer) Flush() error { return w.bw.Flush() }

// WriteValue encodes v. Bulk string lengths are byte lengths.
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case SimpleString, Error:
		// a CR or LF would terminate the line early
		s := strings.NewReplacer("\r", " ", "\n", " ").Replace(v.Str)
		return w.writeLine(byte(v.Type), s)
	case Integer:
		return w.writeLine(':', strconv.FormatInt(v.Int, 10))
	case BulkString:
		if v.Null {
			return w.writeLine('$', "-1")
		}
		if err := w.writeLine('$', strconv.Itoa(len(v.Str))); err != nil {
			return err
		}
		if _, err := w.bw.WriteString(v.Str); err != nil {
			return err
		}
		_, err := w.bw.WriteString("\r\n")
		return err
	case Array:
		if v.Null {
			return w.writeLine('*', "-1")
		}
		if err := w.writeLine('*', strconv.Itoa(len(v.Array))); err != nil {
			return err
		}
		for _, el := range v.Array {
			if err := w.WriteValue(el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot encode type %q", ErrProtocol, byte(v.Type))
	}
}

// WriteCommand encodes args as an array of bulk strings, the form clients
// send.
func (w *Writer) WriteCommand(args ...string) error {
	elems := make([]Value, len(args))
	for i, a := range args {
		elems[i] = Bulk(a)
	}
	return w.WriteValue(Value{Type: Array, Array: elems})
}

func (w *Writer) writeLine(prefix byte, s string) error {
	if err := w.bw.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	_, err := w.bw.WriteString("\r\n")
	return err
}
