package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Erlang external term format tags.
const (
	termVersion      = 131
	tagNewFloat      = 70
	tagSmallInteger  = 97
	tagInteger       = 98
	tagFloat         = 99
	tagAtom          = 100
	tagSmallTuple    = 104
	tagLargeTuple    = 105
	tagNil           = 106
	tagString        = 107
	tagList          = 108
	tagBinary        = 109
	tagSmallBig      = 110
	tagLargeBig      = 111
	tagSmallAtom     = 115
	tagMap           = 116
	tagAtomUTF8      = 118
	tagSmallAtomUTF8 = 119
)

// maxTermDepth bounds nesting of lists, tuples and maps in a received term.
const maxTermDepth = 256

const (
	atomTrue      = "true"
	atomFalse     = "false"
	atomNil       = "nil"
	atomUndefined = "undefined"
)

// Pack transcodes wire text into a binary term. Empty text packs the absence
// atom.
func Pack(text []byte) ([]byte, error) {
	var value any
	if len(bytes.TrimSpace(text)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("pack: %w", err)
		}
		if dec.More() {
			return nil, fmt.Errorf("pack: trailing data after wire text")
		}
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(text)+16))
	buf.WriteByte(termVersion)
	if err := writeTerm(buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unpack transcodes a binary term into wire text.
func Unpack(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] != termVersion {
		return nil, fmt.Errorf("%w: missing version byte", ErrMalformedTerm)
	}
	r := &termReader{buf: frame, pos: 1}
	value, err := r.readTerm()
	if err != nil {
		return nil, err
	}
	if r.pos != len(frame) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTerm, len(frame)-r.pos)
	}
	return json.Marshal(value)
}

func writeTerm(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		writeAtom(buf, atomNil)
	case bool:
		if v {
			writeAtom(buf, atomTrue)
		} else {
			writeAtom(buf, atomFalse)
		}
	case string:
		buf.WriteByte(tagBinary)
		writeUint32(buf, uint32(len(v)))
		buf.WriteString(v)
	case json.Number:
		return writeNumber(buf, v)
	case []any:
		if len(v) == 0 {
			buf.WriteByte(tagNil)
			return nil
		}
		buf.WriteByte(tagList)
		writeUint32(buf, uint32(len(v)))
		for _, item := range v {
			if err := writeTerm(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(tagNil)
	case map[string]any:
		buf.WriteByte(tagMap)
		writeUint32(buf, uint32(len(v)))
		for key, item := range v {
			if err := writeTerm(buf, key); err != nil {
				return err
			}
			if err := writeTerm(buf, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("pack: unsupported value %T", value)
	}
	return nil
}

func writeNumber(buf *bytes.Buffer, n json.Number) error {
	text := n.String()
	if !isIntegerLiteral(text) {
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("pack: %w", err)
		}
		buf.WriteByte(tagNewFloat)
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], math.Float64bits(f))
		buf.Write(raw[:])
		return nil
	}
	i, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return fmt.Errorf("pack: invalid integer %q", text)
	}
	writeInteger(buf, i)
	return nil
}

func writeInteger(buf *bytes.Buffer, i *big.Int) {
	if i.IsInt64() {
		v := i.Int64()
		if v >= 0 && v <= math.MaxUint8 {
			buf.WriteByte(tagSmallInteger)
			buf.WriteByte(byte(v))
			return
		}
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			buf.WriteByte(tagInteger)
			writeUint32(buf, uint32(int32(v)))
			return
		}
	}
	magnitude := new(big.Int).Abs(i).Bytes()
	// big.Int bytes are big-endian; the term format stores digits little-endian.
	for l, r := 0, len(magnitude)-1; l < r; l, r = l+1, r-1 {
		magnitude[l], magnitude[r] = magnitude[r], magnitude[l]
	}
	if len(magnitude) <= math.MaxUint8 {
		buf.WriteByte(tagSmallBig)
		buf.WriteByte(byte(len(magnitude)))
	} else {
		buf.WriteByte(tagLargeBig)
		writeUint32(buf, uint32(len(magnitude)))
	}
	if i.Sign() < 0 {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(magnitude)
}

func writeAtom(buf *bytes.Buffer, name string) {
	buf.WriteByte(tagSmallAtomUTF8)
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], v)
	buf.Write(raw[:])
}

func isIntegerLiteral(text string) bool {
	return text != "" && !strings.ContainsAny(text, ".eE")
}

type termReader struct {
	buf   []byte
	pos   int
	depth int
}

func (r *termReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrMalformedTerm, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *termReader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *termReader) readUint16() (int, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (r *termReader) readUint32() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(b)), nil
}

// readTerm returns a tree of map[string]any, []any, string, bool, nil and
// json.Number so json.Marshal reproduces numbers digit for digit. Binaries
// and atoms must be valid UTF-8 to survive as wire text.
func (r *termReader) readTerm() (any, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxTermDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedTerm, maxTermDepth)
	}
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagSmallInteger:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return json.Number(strconv.Itoa(int(b))), nil
	case tagInteger:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		return json.Number(strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(b))), 10)), nil
	case tagSmallBig, tagLargeBig:
		var n int
		if tag == tagSmallBig {
			b, err := r.readByte()
			if err != nil {
				return nil, err
			}
			n = int(b)
		} else if n, err = r.readUint32(); err != nil {
			return nil, err
		}
		sign, err := r.readByte()
		if err != nil {
			return nil, err
		}
		digits, err := r.take(n)
		if err != nil {
			return nil, err
		}
		be := make([]byte, n)
		for i := range digits {
			be[n-1-i] = digits[i]
		}
		i := new(big.Int).SetBytes(be)
		if sign != 0 {
			i.Neg(i)
		}
		return json.Number(i.String()), nil
	case tagNewFloat:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return floatNumber(math.Float64frombits(binary.BigEndian.Uint64(b)))
	case tagFloat:
		b, err := r.take(31)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimRight(string(b), "\x00"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTerm, err)
		}
		return floatNumber(f)
	case tagAtom, tagAtomUTF8:
		n, err := r.readUint16()
		if err != nil {
			return nil, err
		}
		return r.atom(n)
	case tagSmallAtom, tagSmallAtomUTF8:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return r.atom(int(b))
	case tagBinary:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: binary is not valid UTF-8", ErrMalformedTerm)
		}
		return string(b), nil
	case tagString:
		n, err := r.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		items := make([]any, n)
		for i, c := range b {
			items[i] = json.Number(strconv.Itoa(int(c)))
		}
		return items, nil
	case tagNil:
		return []any{}, nil
	case tagList:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		items, err := r.terms(n)
		if err != nil {
			return nil, err
		}
		tail, err := r.readTerm()
		if err != nil {
			return nil, err
		}
		if t, ok := tail.([]any); !ok || len(t) != 0 {
			return nil, fmt.Errorf("%w: improper list", ErrMalformedTerm)
		}
		return items, nil
	case tagSmallTuple:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return r.terms(int(b))
	case tagLargeTuple:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		return r.terms(n)
	case tagMap:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, min(n, 64))
		for i := 0; i < n; i++ {
			key, err := r.readTerm()
			if err != nil {
				return nil, err
			}
			name, err := mapKey(key)
			if err != nil {
				return nil, err
			}
			value, err := r.readTerm()
			if err != nil {
				return nil, err
			}
			out[name] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported tag %d", ErrMalformedTerm, tag)
	}
}

func (r *termReader) terms(n int) ([]any, error) {
	if n > len(r.buf)-r.pos {
		return nil, fmt.Errorf("%w: element count %d exceeds frame", ErrMalformedTerm, n)
	}
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		item, err := r.readTerm()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *termReader) atom(n int) (any, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: atom is not valid UTF-8", ErrMalformedTerm)
	}
	switch name := string(b); name {
	case atomTrue:
		return true, nil
	case atomFalse:
		return false, nil
	case atomNil, atomUndefined:
		return nil, nil
	default:
		return name, nil
	}
}

func mapKey(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case json.Number:
		return k.String(), nil
	case bool:
		return strconv.FormatBool(k), nil
	default:
		return "", fmt.Errorf("%w: unsupported map key %T", ErrMalformedTerm, key)
	}
}

func floatNumber(f float64) (json.Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite float", ErrMalformedTerm)
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if isIntegerLiteral(text) {
		// Keep the value fractional on the text side.
		text += ".0"
	}
	return json.Number(text), nil
}
