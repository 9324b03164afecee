// Package cdap implements the Common Distributed Application Protocol:
// message type, per-session state machine, invoke-id management, and the
// wire codec peers use to interoperate.
package cdap

// Opcode is one of the eighteen CDAP operation codes.
type Opcode uint8

const (
	OpConnect Opcode = iota + 1
	OpConnectR
	OpRelease
	OpReleaseR
	OpCreate
	OpCreateR
	OpDelete
	OpDeleteR
	OpRead
	OpReadR
	OpCancelRead
	OpCancelReadR
	OpWrite
	OpWriteR
	OpStart
	OpStartR
	OpStop
	OpStopR
)

func (o Opcode) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpConnectR:
		return "connect_r"
	case OpRelease:
		return "release"
	case OpReleaseR:
		return "release_r"
	case OpCreate:
		return "create"
	case OpCreateR:
		return "create_r"
	case OpDelete:
		return "delete"
	case OpDeleteR:
		return "delete_r"
	case OpRead:
		return "read"
	case OpReadR:
		return "read_r"
	case OpCancelRead:
		return "cancelread"
	case OpCancelReadR:
		return "cancelread_r"
	case OpWrite:
		return "write"
	case OpWriteR:
		return "write_r"
	case OpStart:
		return "start"
	case OpStartR:
		return "start_r"
	case OpStop:
		return "stop"
	case OpStopR:
		return "stop_r"
	default:
		return "unknown"
	}
}

// IsResponse reports whether o is one of the *_R opcodes.
func (o Opcode) IsResponse() bool { return o != 0 && o%2 == 0 }

// Flag modifies message semantics.
type Flag uint8

const (
	FlagNone Flag = iota
	FlagSync
	FlagReadIncomplete
)

// ValueKind tags the primitive type carried in a Value.
type ValueKind uint8

const (
	ValueKindNone ValueKind = iota
	ValueKindInt32
	ValueKindSInt32
	ValueKindInt64
	ValueKindSInt64
	ValueKindString
	ValueKindBytes
	ValueKindFloat32
	ValueKindFloat64
	ValueKindBool
)

// Value is a tagged union over the primitive types CDAP object values and
// filters may carry.
type Value struct {
	Kind    ValueKind
	Int32   int32
	SInt32  int32
	Int64   int64
	SInt64  int64
	Str     string
	Bytes   []byte
	Float32 float32
	Float64 float64
	Bool    bool
}

// ObjectID names the object a request or response targets.
type ObjectID struct {
	Class    string
	Name     string
	Instance uint64
}

// NamingInfo is the AE/AP source or destination naming tuple, mandatory
// only on CONNECT/CONNECT_R.
type NamingInfo struct {
	ApName     string
	ApInstance string
	AeName     string
	AeInstance string
}

// AuthPolicy carries the negotiated authentication policy name plus an
// optional encrypted value, exchanged during CACEP (the CDAP connection
// establishment phase) on CONNECT/CONNECT_R.
type AuthPolicy struct {
	Name  string
	Value AuthValue
}

// AuthValue is the (possibly secretbox-encrypted) authentication payload.
// Encrypted is nil when the policy named in AuthPolicy.Name requires no
// value (e.g. "none").
type AuthValue struct {
	Name      string
	Encrypted []byte
	Nonce     [24]byte
}

// Message is one CDAP protocol data unit.
type Message struct {
	Opcode       Opcode
	AbsSyntax    int32
	Flags        Flag
	InvokeID     uint32
	Object       ObjectID
	Value        Value
	Result       int32
	ResultReason string
	Scope        byte
	Filter       []byte
	Auth         *AuthPolicy
	SrcName      NamingInfo
	DstName      NamingInfo
}
