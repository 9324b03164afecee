package dtsv

import "time"

// Flag bits carried in a PDU's PCI.
type Flag uint8

const (
	// FlagDRF marks a PDU as starting a fresh data run.
	FlagDRF Flag = 1 << iota
)

// ControlOpcode identifies a DTCP control PDU. Data PDUs carry OpcodeNone.
type ControlOpcode uint8

const (
	OpcodeNone ControlOpcode = iota
	OpcodeACK
	OpcodeNACK
	OpcodeFC
	OpcodeACKFC
	OpcodeControlACK
	OpcodeRendezvous
)

func (o ControlOpcode) String() string {
	switch o {
	case OpcodeNone:
		return "data"
	case OpcodeACK:
		return "ack"
	case OpcodeNACK:
		return "nack"
	case OpcodeFC:
		return "fc"
	case OpcodeACKFC:
		return "ack_fc"
	case OpcodeControlACK:
		return "control_ack"
	case OpcodeRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// PCI is the Protocol Control Information header.
type PCI struct {
	SrcAddress uint64
	SrcCEPID   uint32
	DstAddress uint64
	DstCEPID   uint32
	QoSID      uint32

	Seq   uint64 // sequence number; 0 for most control PDUs
	Flags Flag

	Opcode  ControlOpcode // OpcodeNone for data PDUs
	CtrlSeq uint64        // control-PDU sequence, for last_rcv_ctrl_seq dedup

	// AckSeq/NackSeq/RightWindowEdge/Rate/TimeFrame carry control-PDU
	// payload fields; zero-valued on data PDUs.
	AckSeq          uint64
	NackSeq         uint64
	RightWindowEdge uint64
	SendingRate     uint32
	TimeFrame       time.Duration
}

// IsControl reports whether the PDU carries a control opcode rather than
// user data.
func (p PCI) IsControl() bool { return p.Opcode != OpcodeNone }

// PDU is a Protocol Data Unit: a PCI plus payload. Data PDUs carry an SDU
// fragment in Payload; control PDUs normally carry none.
type PDU struct {
	PCI     PCI
	Payload []byte
}

// SequencingEntry tags an out-of-order inbound PDU with its arrival time,
// for the A-timer's age check.
type SequencingEntry struct {
	PDU       PDU
	ArrivedAt time.Time
}

// RTXEntry is one retransmission-queue record.
type RTXEntry struct {
	PDU           PDU
	FirstSendTime time.Time
	Retries       int
}
