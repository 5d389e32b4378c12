package model

import (
	"encoding/binary"
	"fmt"
)

// Operator is the kind of lifecycle event a log record captures
type Operator uint8

const (
	OperatorCreate Operator = 0
	OperatorModify Operator = 1
	OperatorDelete Operator = 2
)

func (o Operator) String() string {
	switch o {
	case OperatorCreate:
		return "CREATE"
	case OperatorModify:
		return "MODIFY"
	case OperatorDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("OPERATOR(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the three known operators
func (o Operator) Valid() bool {
	return o <= OperatorDelete
}

// RecordHeaderSize is the encoded size of a record without its payload:
// key, operator byte and the int32 payload length.
const RecordHeaderSize = IDLength + 1 + 4

// LogRecord is one durable transaction archive event.
//
// Wire format, big-endian:
//
//	[key 16 bytes][operator 1 byte][length int32][payload length bytes]
type LogRecord struct {
	Key      GlobalTransactionID
	Operator Operator
	Payload  []byte
}

// Size returns the encoded size of the record
func (r LogRecord) Size() int {
	return RecordHeaderSize + len(r.Payload)
}

// Encode serializes the record. DELETE records never carry a payload.
func (r LogRecord) Encode() []byte {
	payload := r.Payload
	if r.Operator == OperatorDelete {
		payload = nil
	}
	buf := make([]byte, RecordHeaderSize+len(payload))
	copy(buf, r.Key[:])
	buf[IDLength] = byte(r.Operator)
	binary.BigEndian.PutUint32(buf[IDLength+1:], uint32(int32(len(payload))))
	copy(buf[RecordHeaderSize:], payload)
	return buf
}

// DecodeRecord parses one encoded record. The slice must hold exactly one record.
func DecodeRecord(data []byte) (LogRecord, error) {
	if len(data) < RecordHeaderSize {
		return LogRecord{}, fmt.Errorf("record too short: %d bytes", len(data))
	}
	var rec LogRecord
	copy(rec.Key[:], data[:IDLength])
	rec.Operator = Operator(data[IDLength])
	if !rec.Operator.Valid() {
		return LogRecord{}, fmt.Errorf("unknown record operator %d", data[IDLength])
	}
	length := int32(binary.BigEndian.Uint32(data[IDLength+1:]))
	if length < 0 || int(length) != len(data)-RecordHeaderSize {
		return LogRecord{}, fmt.Errorf("record length %d does not match %d payload bytes", length, len(data)-RecordHeaderSize)
	}
	rec.Payload = append([]byte(nil), data[RecordHeaderSize:]...)
	return rec, nil
}

// PayloadLength reads the length field of an encoded record header
func PayloadLength(header []byte) int32 {
	return int32(binary.BigEndian.Uint32(header[IDLength+1 : RecordHeaderSize]))
}

// NewCreateRecord builds the record appended when a transaction archive is created
func NewCreateRecord(key GlobalTransactionID, payload []byte) LogRecord {
	return LogRecord{Key: key, Operator: OperatorCreate, Payload: payload}
}

// NewModifyRecord builds the record appended when an archive is updated
func NewModifyRecord(key GlobalTransactionID, payload []byte) LogRecord {
	return LogRecord{Key: key, Operator: OperatorModify, Payload: payload}
}

// NewDeleteRecord builds the tombstone appended when an archive is forgotten
func NewDeleteRecord(key GlobalTransactionID) LogRecord {
	return LogRecord{Key: key, Operator: OperatorDelete}
}
