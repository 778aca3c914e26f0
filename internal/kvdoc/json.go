// Parses and renders documents as JSON with MongoDB extended JSON wrappers.

package kvdoc

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

var errNotDocument = errors.New("top-level JSON value must be an object")

// ParseDocument parses a JSON object.
//
// Integers that fit in 32 bits become Int32, larger ones Int64, numbers with a
// fraction or exponent become Double. Single-key objects using the extended
// JSON wrappers $oid, $date, $timestamp, $binary, $numberInt, $numberLong,
// $numberDouble, $localDate and $localTime become the matching scalar.
func ParseDocument(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotDocument
	}
	return parseObject(data)
}

// ParseLines parses one document per non-empty line. A line that fails to
// parse is reported with its 1-based line number and stops the iteration.
func ParseLines(r io.Reader) iter.Seq2[*Document, error] {
	return func(yield func(*Document, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			b := bytes.TrimSpace(scanner.Bytes())
			if len(b) == 0 {
				continue
			}
			doc, err := ParseDocument(b)
			if err != nil {
				yield(nil, fmt.Errorf("line %d: %w", line, err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read documents: %w", err))
		}
	}
}

func parseObject(data []byte) (*Document, error) {
	doc := NewDocument()
	err := jsonparser.ObjectEach(data, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		// ObjectEach hands out keys already unescaped.
		k := string(key)
		v, err := parseValue(value, dt)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		doc.Set(k, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func parseArray(data []byte) (Array, error) {
	out := Array{}
	var inner error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dt jsonparser.ValueType, _ int, err error) {
		if inner != nil {
			return
		}
		if err != nil {
			inner = err
			return
		}
		v, err := parseValue(value, dt)
		if err != nil {
			inner = fmt.Errorf("[%d]: %w", len(out), err)
			return
		}
		out = append(out, v)
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseValue(value []byte, dt jsonparser.ValueType) (Value, error) {
	switch dt {
	case jsonparser.Null:
		return Null{}, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case jsonparser.Number:
		return parseNumber(value)
	case jsonparser.Array:
		return parseArray(value)
	case jsonparser.Object:
		doc, err := parseObject(value)
		if err != nil {
			return nil, err
		}
		return fromExtended(doc)
	case jsonparser.NotExist, jsonparser.Unknown:
		return nil, fmt.Errorf("invalid JSON value %q", value)
	default:
		return nil, fmt.Errorf("unsupported JSON value type %s", dt)
	}
}

func parseNumber(value []byte) (Value, error) {
	if !bytes.ContainsAny(value, ".eE") {
		i, err := jsonparser.ParseInt(value)
		if err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return Int32(i), nil
			}
			return Int64(i), nil
		}
	}
	f, err := jsonparser.ParseFloat(value)
	if err != nil {
		return nil, err
	}
	return Double(f), nil
}

// fromExtended converts single-key extended JSON wrappers.
func fromExtended(doc *Document) (Value, error) {
	if doc.Len() != 1 {
		return doc, nil
	}
	key := doc.Keys()[0]
	if !strings.HasPrefix(key, "$") {
		return doc, nil
	}
	v, _ := doc.Get(key)
	s, isString := v.(String)
	switch key {
	case "$oid":
		if !isString {
			return nil, errors.New("$oid must be a string")
		}
		return ParseObjectID(string(s))
	case "$numberInt":
		if !isString {
			return nil, errors.New("$numberInt must be a string")
		}
		i, err := strconv.ParseInt(string(s), 10, 32)
		if err != nil {
			return nil, err
		}
		return Int32(i), nil
	case "$numberLong":
		if !isString {
			return nil, errors.New("$numberLong must be a string")
		}
		i, err := strconv.ParseInt(string(s), 10, 64)
		if err != nil {
			return nil, err
		}
		return Int64(i), nil
	case "$numberDouble":
		if !isString {
			return nil, errors.New("$numberDouble must be a string")
		}
		f, err := strconv.ParseFloat(string(s), 64)
		if err != nil {
			return nil, err
		}
		return Double(f), nil
	case "$localDate":
		if !isString {
			return nil, errors.New("$localDate must be a string")
		}
		return ParseDate(string(s))
	case "$localTime":
		if !isString {
			return nil, errors.New("$localTime must be a string")
		}
		return ParseTime(string(s))
	case "$date":
		return parseExtendedDate(v)
	case "$timestamp":
		ts, ok := v.(*Document)
		if !ok {
			return nil, errors.New("$timestamp must be an object")
		}
		sec, err1 := uint32Field(ts, "t")
		inc, err2 := uint32Field(ts, "i")
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("$timestamp: %w", err)
		}
		return Timestamp{Seconds: sec, Increment: inc}, nil
	case "$binary":
		bin, ok := v.(*Document)
		if !ok {
			return nil, errors.New("$binary must be an object")
		}
		return parseExtendedBinary(bin)
	default:
		return doc, nil
	}
}

func parseExtendedDate(v Value) (Value, error) {
	switch x := v.(type) {
	case String:
		t, err := time.Parse(time.RFC3339Nano, string(x))
		if err != nil {
			return nil, fmt.Errorf("$date: %w", err)
		}
		return NewInstant(t), nil
	case Int32:
		return NewInstant(time.UnixMilli(int64(x))), nil
	case Int64:
		// Also covers {"$date": {"$numberLong": "..."}}, already unwrapped.
		return NewInstant(time.UnixMilli(int64(x))), nil
	default:
		return nil, errors.New("$date must be a string, a number or {$numberLong}")
	}
}

func parseExtendedBinary(bin *Document) (Value, error) {
	b64, ok := bin.Get("base64")
	s, isString := b64.(String)
	if !ok || !isString {
		return nil, errors.New("$binary.base64 must be a string")
	}
	data, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("$binary: %w", err)
	}
	var sub byte
	if st, ok := bin.Get("subType"); ok {
		sts, isString := st.(String)
		if !isString {
			return nil, errors.New("$binary.subType must be a string")
		}
		b, err := hex.DecodeString(string(sts))
		if err != nil || len(b) != 1 {
			return nil, fmt.Errorf("$binary.subType %q is invalid", sts)
		}
		sub = b[0]
	}
	return Binary{Subtype: sub, Data: data}, nil
}

func uint32Field(d *Document, key string) (uint32, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	var i int64
	switch x := v.(type) {
	case Int32:
		i = int64(x)
	case Int64:
		i = int64(x)
	default:
		return 0, fmt.Errorf("%q must be an integer", key)
	}
	if i < 0 || i > math.MaxUint32 {
		return 0, fmt.Errorf("%q out of range", key)
	}
	return uint32(i), nil
}

// MarshalJSON renders the document as extended JSON. Values that plain JSON
// cannot represent without losing their kind are wrapped so that
// [ParseDocument] returns an equal document.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := appendJSON(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendJSON writes v as extended JSON to buf.
func AppendJSON(buf *bytes.Buffer, v Value) error {
	return appendJSON(buf, v)
}

func appendJSON(buf *bytes.Buffer, v Value) error {
	switch x := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(x)))
	case Int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case Int64:
		writeWrapped(buf, "$numberLong", strconv.Quote(strconv.FormatInt(int64(x), 10)))
	case Double:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			writeWrapped(buf, "$numberDouble", strconv.Quote(strconv.FormatFloat(f, 'g', -1, 64)))
			break
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case String:
		writeString(buf, string(x))
	case Date:
		writeWrapped(buf, "$localDate", strconv.Quote(x.String()))
	case Time:
		writeWrapped(buf, "$localTime", strconv.Quote(x.String()))
	case ObjectID:
		writeWrapped(buf, "$oid", strconv.Quote(x.String()))
	case Timestamp:
		writeWrapped(buf, "$timestamp", fmt.Sprintf(`{"t":%d,"i":%d}`, x.Seconds, x.Increment))
	case Instant:
		writeWrapped(buf, "$date", strconv.Quote(x.UTC().Format("2006-01-02T15:04:05.000Z07:00")))
	case Binary:
		writeWrapped(buf, "$binary", fmt.Sprintf(`{"base64":%q,"subType":"%02x"}`, base64.StdEncoding.EncodeToString(x.Data), x.Subtype))
	case Array:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Document:
		buf.WriteByte('{')
		i := 0
		for k, e := range x.All() {
			if i > 0 {
				buf.WriteByte(',')
			}
			i++
			writeString(buf, k)
			buf.WriteByte(':')
			if err := appendJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value %T", v)
	}
	return nil
}

func writeWrapped(buf *bytes.Buffer, key, raw string) {
	buf.WriteString(`{"`)
	buf.WriteString(key)
	buf.WriteString(`":`)
	buf.WriteString(raw)
	buf.WriteByte('}')
}

const hexDigits = "0123456789abcdef"

// writeString writes s as a JSON string literal.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[r>>4])
			buf.WriteByte(hexDigits[r&0xF])
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}
