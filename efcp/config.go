package efcp

import (
	"github.com/rinastack/efcp-core/dtcp"
	"github.com/rinastack/efcp-core/dtp"
	"github.com/rinastack/efcp-core/dtsv"
)

// ConnectionConfig bundles everything needed to stand up one connection's
// DT-SV, DTP engine, and optional DTCP engine. QosID labels the PDU's
// QoS class; it travels in every PCI and is handed to the RMT alongside
// the destination address.
type ConnectionConfig struct {
	SrcAddress, DstAddress uint64
	SrcCEPID, DstCEPID     uint32
	PortID                 uint64
	QosID                  uint32

	DTP  dtp.Config
	DTCP dtcp.Config

	MaxFlowPDUSize, MaxFlowSDUSize int
	MPL, A, InitialTR              int64 // milliseconds
}

// DefaultConnectionConfig returns a window-based-flow-control connection
// profile for QoS class qosID, with DTCP enabled.
func DefaultConnectionConfig(qosID uint32) ConnectionConfig {
	dtpCfg := dtp.DefaultConfig()
	dtpCfg.DTCPPresent = true
	return ConnectionConfig{
		QosID:          qosID,
		DTP:            dtpCfg,
		DTCP:           dtcp.DefaultConfig(),
		MaxFlowPDUSize: 1500,
		MaxFlowSDUSize: 1452,
		MPL:            int64(dtsv.MinGranularity / 1e6),
		A:              0,
		InitialTR:      int64(200),
	}
}
