package txn

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"rfstore/internal/wire"
)

// Operation is the file operation a transaction performs.
type Operation int32

const (
	OpUnknown Operation = iota
	OpRead
	OpWrite
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOperation parses the lower-case operation names used by the CLI and
// the client operations file.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return OpRead, nil
	case "write":
		return OpWrite, nil
	case "delete":
		return OpDelete, nil
	}
	return OpUnknown, fmt.Errorf("unknown operation %q", s)
}

// Status is the state of a transaction. Pending is the zero value.
type Status int32

const (
	StatusPending Status = iota
	StatusCommit
	StatusAbort
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommit:
		return "commit"
	case StatusAbort:
		return "abort"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// IsTerminal reports whether s is Commit or Abort.
func (s Status) IsTerminal() bool {
	return s == StatusCommit || s == StatusAbort
}

// CanTransition reports whether a record in status s may move to next.
// Only Pending records move, and only to a terminal status.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

// Transaction is a single read, write or delete of one file.
type Transaction struct {
	ID        int64
	Operation Operation
	ClientID  string
	Filename  string
	// Payload is the full file content; only set for writes.
	Payload []byte
	Status  Status
	// Created is set on a participant's write record when its lock attempt
	// created the file, so an abort after a restart can remove it again.
	Created bool
}

// Clone returns a deep copy of t.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload != nil {
		c.Payload = append([]byte{}, t.Payload...)
	}
	return &c
}

func (t *Transaction) String() string {
	return fmt.Sprintf("txn %d %s %q client=%s status=%s", t.ID, t.Operation, t.Filename, t.ClientID, t.Status)
}

const (
	fieldID        protowire.Number = 1
	fieldOperation protowire.Number = 2
	fieldClientID  protowire.Number = 3
	fieldFilename  protowire.Number = 4
	fieldPayload   protowire.Number = 5
	fieldStatus    protowire.Number = 6
	fieldCreated   protowire.Number = 7
)

// MarshalWire encodes t in protobuf wire format.
func (t *Transaction) MarshalWire() ([]byte, error) {
	b := make([]byte, 0, 32+len(t.ClientID)+len(t.Filename)+len(t.Payload))
	b = wire.AppendVarint(b, fieldID, uint64(t.ID))
	b = wire.AppendVarint(b, fieldOperation, uint64(t.Operation))
	b = wire.AppendString(b, fieldClientID, t.ClientID)
	b = wire.AppendString(b, fieldFilename, t.Filename)
	b = wire.AppendBytes(b, fieldPayload, t.Payload)
	b = wire.AppendVarint(b, fieldStatus, uint64(t.Status))
	if t.Created {
		b = wire.AppendVarint(b, fieldCreated, 1)
	}
	return b, nil
}

// UnmarshalWire decodes b into t, replacing its contents.
func (t *Transaction) UnmarshalWire(b []byte) error {
	*t = Transaction{}
	var id, op, status, created uint64
	err := wire.ConsumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldID:
			return wire.Varint(typ, b, &id)
		case fieldOperation:
			return wire.Varint(typ, b, &op)
		case fieldClientID:
			return wire.String(typ, b, &t.ClientID)
		case fieldFilename:
			return wire.String(typ, b, &t.Filename)
		case fieldPayload:
			return wire.Bytes(typ, b, &t.Payload)
		case fieldStatus:
			return wire.Varint(typ, b, &status)
		case fieldCreated:
			return wire.Varint(typ, b, &created)
		}
		return wire.Unknown
	})
	if err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	t.ID = int64(id)
	t.Operation = Operation(op)
	t.Status = Status(status)
	t.Created = created != 0
	return nil
}
