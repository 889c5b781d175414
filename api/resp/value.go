// Package resp serves the engine over the Redis serialization protocol (RESP2).
package resp

import (
	"errors"
	"strconv"
	"strings"
)

// Type is the RESP type prefix byte.
type Type byte

const (
	SimpleString Type = '+'
	Error        Type = '-'
	Integer      Type = ':'
	BulkString   Type = '$'
	Array        Type = '*'
)

var (
	ErrProtocol    = errors.New("protocol error")
	ErrNotCommand  = errors.New("value is not a command array")
	errEmptyInline = errors.New("empty inline command")
)

const (
	maxBulkLength     = 64 * 1024 * 1024
	maxArrayLength    = 1024 * 1024
	maxInlineLength   = 64 * 1024
	maxNestingDepth   = 32
	defaultBufferSize = 16 * 1024
)

// Value is one decoded RESP value. Null marks the null bulk string ($-1) and
// the null array (*-1).
type Value struct {
	Type  Type
	Str   string
	Int   int64
	Array []Value
	Null  bool
}

func Simple(s string) Value        { return Value{Type: SimpleString, Str: s} }
func Err(msg string) Value         { return Value{Type: Error, Str: msg} }
func Int(n int64) Value            { return Value{Type: Integer, Int: n} }
func Bulk(s string) Value          { return Value{Type: BulkString, Str: s} }
func NullBulk() Value              { return Value{Type: BulkString, Null: true} }
func ArrayOf(vs ...Value) Value    { return Value{Type: Array, Array: append([]Value{}, vs...)} }
func OK() Value                    { return Simple("OK") }
func ErrorString(msg string) Value { return Err("ERR " + msg) }

// WrongArgs is the reply for a command called with the wrong arity.
func WrongArgs(cmd string) Value {
	return ErrorString("wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

// Command converts an array of bulk or simple strings into an argument list.
func (v Value) Command() ([]string, error) {
	if v.Type != Array || v.Null || len(v.Array) == 0 {
		return nil, ErrNotCommand
	}
	args := make([]string, 0, len(v.Array))
	for _, el := range v.Array {
		switch {
		case el.Type == BulkString && !el.Null, el.Type == SimpleString:
			args = append(args, el.Str)
		default:
			return nil, ErrNotCommand
		}
	}
	return args, nil
}

// String renders the value roughly the way redis-cli prints replies.
func (v Value) String() string {
	switch v.Type {
	case SimpleString:
		return v.Str
	case Error:
		return "(error) " + v.Str
	case Integer:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case BulkString:
		if v.Null {
			return "(nil)"
		}
		return strconv.Quote(v.Str)
	case Array:
		if v.Null {
			return "(nil)"
		}
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, el := range v.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strconv.Itoa(i+1) + ") " + el.String())
		}
		return b.String()
	default:
		return "(unknown)"
	}
}
