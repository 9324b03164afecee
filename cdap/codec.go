package cdap

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/rinastack/efcp-core/rerr"
)

// Encode and Decode are the codec's whole contract: pure, stateless
// functions over a length-prefixed, field-tagged binary encoding. The
// field ordering and tag numbers below are the wire contract interop
// depends on and must never be reordered, only appended to. Each field
// carries a one-byte tag so optional fields (Auth, Filter, object
// identification) can be omitted entirely rather than zero-filled.

type tag uint8

const (
	tagOpcode tag = iota + 1
	tagAbsSyntax
	tagFlags
	tagInvokeID
	tagObjectClass
	tagObjectName
	tagObjectInstance
	tagValue
	tagResult
	tagResultReason
	tagScope
	tagFilter
	tagAuthPolicy
	tagSrcName
	tagDstName
	tagEnd
)

// Encode serializes msg into its wire form.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer

	writeTag(&buf, tagOpcode)
	buf.WriteByte(byte(msg.Opcode))

	if msg.AbsSyntax != 0 {
		writeTag(&buf, tagAbsSyntax)
		writeInt32(&buf, msg.AbsSyntax)
	}
	if msg.Flags != FlagNone {
		writeTag(&buf, tagFlags)
		buf.WriteByte(byte(msg.Flags))
	}
	writeTag(&buf, tagInvokeID)
	writeUint32(&buf, msg.InvokeID)

	if msg.Object.Class != "" {
		writeTag(&buf, tagObjectClass)
		writeString(&buf, msg.Object.Class)
	}
	if msg.Object.Name != "" {
		writeTag(&buf, tagObjectName)
		writeString(&buf, msg.Object.Name)
	}
	if msg.Object.Instance != 0 {
		writeTag(&buf, tagObjectInstance)
		writeUint64(&buf, msg.Object.Instance)
	}
	if msg.Value.Kind != ValueKindNone {
		writeTag(&buf, tagValue)
		if err := encodeValue(&buf, msg.Value); err != nil {
			return nil, err
		}
	}
	if msg.Result != 0 {
		writeTag(&buf, tagResult)
		writeInt32(&buf, msg.Result)
	}
	if msg.ResultReason != "" {
		writeTag(&buf, tagResultReason)
		writeString(&buf, msg.ResultReason)
	}
	if msg.Scope != 0 {
		writeTag(&buf, tagScope)
		buf.WriteByte(msg.Scope)
	}
	if len(msg.Filter) > 0 {
		writeTag(&buf, tagFilter)
		writeBytes(&buf, msg.Filter)
	}
	if msg.Auth != nil {
		writeTag(&buf, tagAuthPolicy)
		encodeAuthPolicy(&buf, *msg.Auth)
	}
	if msg.SrcName != (NamingInfo{}) {
		writeTag(&buf, tagSrcName)
		encodeNaming(&buf, msg.SrcName)
	}
	if msg.DstName != (NamingInfo{}) {
		writeTag(&buf, tagDstName)
		encodeNaming(&buf, msg.DstName)
	}
	writeTag(&buf, tagEnd)

	framed := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(framed, uint32(buf.Len()))
	copy(framed[4:], buf.Bytes())
	return framed, nil
}

// Decode parses b into a Message. Malformed input is classified
// MalformedMessage; Decode keeps no state between calls.
func Decode(b []byte) (Message, error) {
	if len(b) < 4 {
		return Message{}, rerr.New(rerr.MalformedMessage, "cdap.decode_frame_length")
	}
	n := binary.BigEndian.Uint32(b)
	if uint32(len(b)-4) != n {
		return Message{}, rerr.New(rerr.MalformedMessage, "cdap.decode_frame_size")
	}
	r := bytes.NewReader(b[4:])

	var msg Message
	for {
		t, err := readTag(r)
		if err != nil {
			return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_tag", err)
		}
		switch t {
		case tagEnd:
			return msg, nil
		case tagOpcode:
			op, err := r.ReadByte()
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_opcode", err)
			}
			msg.Opcode = Opcode(op)
		case tagAbsSyntax:
			v, err := readInt32(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_abs_syntax", err)
			}
			msg.AbsSyntax = v
		case tagFlags:
			v, err := r.ReadByte()
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_flags", err)
			}
			msg.Flags = Flag(v)
		case tagInvokeID:
			v, err := readUint32(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_invoke_id", err)
			}
			msg.InvokeID = v
		case tagObjectClass:
			v, err := readString(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_object_class", err)
			}
			msg.Object.Class = v
		case tagObjectName:
			v, err := readString(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_object_name", err)
			}
			msg.Object.Name = v
		case tagObjectInstance:
			v, err := readUint64(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_object_instance", err)
			}
			msg.Object.Instance = v
		case tagValue:
			v, err := decodeValue(r)
			if err != nil {
				return Message{}, err
			}
			msg.Value = v
		case tagResult:
			v, err := readInt32(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_result", err)
			}
			msg.Result = v
		case tagResultReason:
			v, err := readString(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_result_reason", err)
			}
			msg.ResultReason = v
		case tagScope:
			v, err := r.ReadByte()
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_scope", err)
			}
			msg.Scope = v
		case tagFilter:
			v, err := readBytes(r)
			if err != nil {
				return Message{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_filter", err)
			}
			msg.Filter = v
		case tagAuthPolicy:
			v, err := decodeAuthPolicy(r)
			if err != nil {
				return Message{}, err
			}
			msg.Auth = &v
		case tagSrcName:
			v, err := decodeNaming(r)
			if err != nil {
				return Message{}, err
			}
			msg.SrcName = v
		case tagDstName:
			v, err := decodeNaming(r)
			if err != nil {
				return Message{}, err
			}
			msg.DstName = v
		default:
			return Message{}, rerr.New(rerr.MalformedMessage, "cdap.decode_unknown_tag")
		}
	}
}

func writeTag(buf *bytes.Buffer, t tag) { buf.WriteByte(byte(t)) }

func readTag(r *bytes.Reader) (tag, error) {
	b, err := r.ReadByte()
	return tag(b), err
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func readInt32(r io.Reader) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(tmp[:])), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) { writeUint64(buf, uint64(v)) }

func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case ValueKindInt32:
		writeInt32(buf, v.Int32)
	case ValueKindSInt32:
		writeInt32(buf, v.SInt32)
	case ValueKindInt64:
		writeInt64(buf, v.Int64)
	case ValueKindSInt64:
		writeInt64(buf, v.SInt64)
	case ValueKindString:
		writeString(buf, v.Str)
	case ValueKindBytes:
		writeBytes(buf, v.Bytes)
	case ValueKindFloat32:
		writeUint32(buf, math.Float32bits(v.Float32))
	case ValueKindFloat64:
		writeUint64(buf, math.Float64bits(v.Float64))
	case ValueKindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	default:
		return rerr.New(rerr.MalformedMessage, "cdap.encode_value_kind")
	}
	return nil
}

func decodeValue(r *bytes.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_value_kind", err)
	}
	v := Value{Kind: ValueKind(kindByte)}
	switch v.Kind {
	case ValueKindInt32:
		v.Int32, err = readInt32(r)
	case ValueKindSInt32:
		v.SInt32, err = readInt32(r)
	case ValueKindInt64:
		v.Int64, err = readInt64(r)
	case ValueKindSInt64:
		v.SInt64, err = readInt64(r)
	case ValueKindString:
		v.Str, err = readString(r)
	case ValueKindBytes:
		v.Bytes, err = readBytes(r)
	case ValueKindFloat32:
		var bits uint32
		bits, err = readUint32(r)
		v.Float32 = math.Float32frombits(bits)
	case ValueKindFloat64:
		var bits uint64
		bits, err = readUint64(r)
		v.Float64 = math.Float64frombits(bits)
	case ValueKindBool:
		var b byte
		b, err = r.ReadByte()
		v.Bool = b != 0
	default:
		return Value{}, rerr.New(rerr.MalformedMessage, "cdap.decode_value_unknown_kind")
	}
	if err != nil {
		return Value{}, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_value_payload", err)
	}
	return v, nil
}

func encodeNaming(buf *bytes.Buffer, n NamingInfo) {
	writeString(buf, n.ApName)
	writeString(buf, n.ApInstance)
	writeString(buf, n.AeName)
	writeString(buf, n.AeInstance)
}

func decodeNaming(r *bytes.Reader) (NamingInfo, error) {
	var n NamingInfo
	var err error
	if n.ApName, err = readString(r); err != nil {
		return n, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_naming_ap_name", err)
	}
	if n.ApInstance, err = readString(r); err != nil {
		return n, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_naming_ap_instance", err)
	}
	if n.AeName, err = readString(r); err != nil {
		return n, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_naming_ae_name", err)
	}
	if n.AeInstance, err = readString(r); err != nil {
		return n, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_naming_ae_instance", err)
	}
	return n, nil
}

func encodeAuthPolicy(buf *bytes.Buffer, a AuthPolicy) {
	writeString(buf, a.Name)
	writeString(buf, a.Value.Name)
	writeBytes(buf, a.Value.Nonce[:])
	writeBytes(buf, a.Value.Encrypted)
}

func decodeAuthPolicy(r *bytes.Reader) (AuthPolicy, error) {
	var a AuthPolicy
	var err error
	if a.Name, err = readString(r); err != nil {
		return a, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_auth_policy_name", err)
	}
	if a.Value.Name, err = readString(r); err != nil {
		return a, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_auth_value_name", err)
	}
	nonce, err := readBytes(r)
	if err != nil {
		return a, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_auth_nonce", err)
	}
	if len(nonce) != len(a.Value.Nonce) {
		return a, rerr.New(rerr.MalformedMessage, "cdap.decode_auth_nonce_length")
	}
	copy(a.Value.Nonce[:], nonce)
	if a.Value.Encrypted, err = readBytes(r); err != nil {
		return a, rerr.Wrap(rerr.MalformedMessage, "cdap.decode_auth_encrypted", err)
	}
	return a, nil
}
