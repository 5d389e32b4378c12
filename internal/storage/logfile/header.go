package logfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/txcoordinator/internal/util"
)

// Header layout, big-endian, HeaderSize bytes:
//
//	magic      [4]byte  "VLOG"
//	major      uint16
//	minor      uint16
//	identifier [16]byte logging identifier tag, zero padded
//	flags      uint8    bit 0 master, bit 1 marked
//	reserved   [3]byte
//	checksum   uint32   CRC32-C of the preceding 28 bytes
const (
	HeaderSize    = 32
	IdentifierLen = 16

	flagMaster = 1 << 0
	flagMarked = 1 << 1
)

var magic = [4]byte{'V', 'L', 'O', 'G'}

// Role is the part a file plays in its logging pair
type Role uint8

const (
	RoleSlave Role = iota
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "MASTER"
	}
	return "SLAVE"
}

// Header is the decoded fixed header at the start of every log file
type Header struct {
	Major      uint16
	Minor      uint16
	Identifier [IdentifierLen]byte
	Master     bool
	Marked     bool
}

// Role returns the role encoded in the header
func (h Header) Role() Role {
	if h.Master {
		return RoleMaster
	}
	return RoleSlave
}

// IdentifierString returns the identifier tag without padding
func (h Header) IdentifierString() string {
	return string(bytes.TrimRight(h.Identifier[:], "\x00"))
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize-util.ChecksumSize)
	copy(buf[0:4], magic[:])
	binary.BigEndian.PutUint16(buf[4:6], h.Major)
	binary.BigEndian.PutUint16(buf[6:8], h.Minor)
	copy(buf[8:8+IdentifierLen], h.Identifier[:])
	var flags byte
	if h.Master {
		flags |= flagMaster
	}
	if h.Marked {
		flags |= flagMarked
	}
	buf[8+IdentifierLen] = flags
	return util.AppendChecksum(buf)
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("header is %d bytes, expected %d", len(data), HeaderSize)
	}
	body, valid := util.ValidateAndStripChecksum(data)
	if !valid {
		return Header{}, fmt.Errorf("header checksum mismatch")
	}
	if !bytes.Equal(body[0:4], magic[:]) {
		return Header{}, fmt.Errorf("bad magic %q", body[0:4])
	}
	var h Header
	h.Major = binary.BigEndian.Uint16(body[4:6])
	h.Minor = binary.BigEndian.Uint16(body[6:8])
	copy(h.Identifier[:], body[8:8+IdentifierLen])
	flags := body[8+IdentifierLen]
	h.Master = flags&flagMaster != 0
	h.Marked = flags&flagMarked != 0
	return h, nil
}

func identifierTag(s string) ([IdentifierLen]byte, error) {
	var tag [IdentifierLen]byte
	if len(s) > IdentifierLen {
		return tag, fmt.Errorf("logging identifier %q longer than %d bytes", s, IdentifierLen)
	}
	copy(tag[:], s)
	return tag, nil
}
