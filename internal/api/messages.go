package api

import (
	"fmt"
	"net"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"rfstore/internal/txn"
	"rfstore/internal/wire"
)

// Status is the binary outcome of a write, delete or vote.
type Status int32

const (
	StatusFailed Status = iota
	StatusSuccessful
)

func (s Status) String() string {
	if s == StatusSuccessful {
		return "successful"
	}
	return "failed"
}

// ReadStatus tells why a read did or did not return content.
type ReadStatus int32

const (
	ReadUnspecified ReadStatus = iota
	ReadFound
	ReadNotFound
	// ReadBusy means a pending write or delete holds the file.
	ReadBusy
	// ReadUnavailable means the chosen participant could not be reached.
	ReadUnavailable
)

func (s ReadStatus) String() string {
	switch s {
	case ReadFound:
		return "found"
	case ReadNotFound:
		return "not_found"
	case ReadBusy:
		return "busy"
	case ReadUnavailable:
		return "unavailable"
	default:
		return "unspecified"
	}
}

// RFile carries a file's content. Content is set iff ReadStatus is
// ReadFound on replies; on WriteFile requests it is the new content.
type RFile struct {
	Filename   string
	Content    []byte
	ClientID   string
	ReadStatus ReadStatus
}

func (m *RFile) MarshalWire() ([]byte, error) {
	b := make([]byte, 0, 16+len(m.Filename)+len(m.ClientID)+len(m.Content))
	b = wire.AppendString(b, 1, m.Filename)
	b = wire.AppendBytes(b, 2, m.Content)
	b = wire.AppendString(b, 3, m.ClientID)
	b = wire.AppendVarint(b, 4, uint64(m.ReadStatus))
	return b, nil
}

func (m *RFile) UnmarshalWire(b []byte) error {
	*m = RFile{}
	var rs uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return wire.String(typ, b, &m.Filename)
		case 2:
			return wire.Bytes(typ, b, &m.Content)
		case 3:
			return wire.String(typ, b, &m.ClientID)
		case 4:
			return wire.Varint(typ, b, &rs)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode RFile: %w", err)
	}
	m.ReadStatus = ReadStatus(rs)
	return nil
}

// StatusReport is the reply to writes, deletes and votes.
type StatusReport struct {
	Status Status
}

func (m *StatusReport) MarshalWire() ([]byte, error) {
	return wire.AppendVarint(nil, 1, uint64(m.Status)), nil
}

func (m *StatusReport) UnmarshalWire(b []byte) error {
	*m = StatusReport{}
	var s uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return wire.Varint(typ, b, &s)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode StatusReport: %w", err)
	}
	m.Status = Status(s)
	return nil
}

// FileRequest names a file for a read or delete.
type FileRequest struct {
	Filename string
	ClientID string
}

func (m *FileRequest) MarshalWire() ([]byte, error) {
	b := wire.AppendString(nil, 1, m.Filename)
	return wire.AppendString(b, 2, m.ClientID), nil
}

func (m *FileRequest) UnmarshalWire(b []byte) error {
	*m = FileRequest{}
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return wire.String(typ, b, &m.Filename)
		case 2:
			return wire.String(typ, b, &m.ClientID)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode FileRequest: %w", err)
	}
	return nil
}

// TxnRef identifies a transaction in phase 2.
type TxnRef struct {
	ID int64
}

func (m *TxnRef) MarshalWire() ([]byte, error) {
	return wire.AppendVarint(nil, 1, uint64(m.ID)), nil
}

func (m *TxnRef) UnmarshalWire(b []byte) error {
	*m = TxnRef{}
	var id uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return wire.Varint(typ, b, &id)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode TxnRef: %w", err)
	}
	m.ID = int64(id)
	return nil
}

// TransactionStatusRequest is sent by a recovering participant. The
// coordinator pushes the decision back to ParticipantAddr:ParticipantPort.
type TransactionStatusRequest struct {
	TxnID           int64
	ParticipantAddr string
	ParticipantPort int32
}

// Target returns the participant's host:port.
func (m *TransactionStatusRequest) Target() string {
	return net.JoinHostPort(m.ParticipantAddr, strconv.Itoa(int(m.ParticipantPort)))
}

func (m *TransactionStatusRequest) MarshalWire() ([]byte, error) {
	b := wire.AppendVarint(nil, 1, uint64(m.TxnID))
	b = wire.AppendString(b, 2, m.ParticipantAddr)
	return wire.AppendVarint(b, 3, uint64(m.ParticipantPort)), nil
}

func (m *TransactionStatusRequest) UnmarshalWire(b []byte) error {
	*m = TransactionStatusRequest{}
	var id, port uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return wire.Varint(typ, b, &id)
		case 2:
			return wire.String(typ, b, &m.ParticipantAddr)
		case 3:
			return wire.Varint(typ, b, &port)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode TransactionStatusRequest: %w", err)
	}
	m.TxnID = int64(id)
	m.ParticipantPort = int32(port)
	return nil
}

// TransactionStatusReply carries the coordinator's final decision.
type TransactionStatusReply struct {
	Status txn.Status
}

func (m *TransactionStatusReply) MarshalWire() ([]byte, error) {
	return wire.AppendVarint(nil, 1, uint64(m.Status)), nil
}

func (m *TransactionStatusReply) UnmarshalWire(b []byte) error {
	*m = TransactionStatusReply{}
	var s uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return wire.Varint(typ, b, &s)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode TransactionStatusReply: %w", err)
	}
	m.Status = txn.Status(s)
	return nil
}

// Empty is the reply to phase-2 calls.
type Empty struct{}

func (*Empty) MarshalWire() ([]byte, error) { return nil, nil }

func (*Empty) UnmarshalWire(b []byte) error {
	return wire.ConsumeFields(b, func(protowire.Number, protowire.Type, []byte) int {
		return wire.Unknown
	})
}
