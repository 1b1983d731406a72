// Package dcap implements a client of the dCache access protocol subset
// needed to stream a single file to or from a storage door: control
// channel handshake, passive open, and read, write, vectored read, seek
// and close on the data channel.
//
// All binary fields on the data channel are big-endian.
package dcap

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultPort is the well-known DCAP door port.
const DefaultPort = 22125

// DefaultChunkSize is the default size of data frames sent by the write
// path.
const DefaultChunkSize = 256 << 10

// Data channel opcodes.
const (
	opWrite uint32 = 1
	opRead  uint32 = 2
	opSeek  uint32 = 3
	opClose uint32 = 4
	opAck   uint32 = 6
	opData  uint32 = 8
	opReadv uint32 = 13
)

// endOfData is the frame length marking the end of a data stream.
const endOfData uint32 = 0xFFFFFFFF

// Mode is a file open mode.
type Mode string

const (
	// ModeRead opens existing file for reading.
	ModeRead Mode = "r"
	// ModeWrite creates new file for writing.
	ModeWrite Mode = "w"
)

// Whence codes of the seek request. They are equal to the io.Seek* ones.
const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

// ErrConnectionBroken is returned when the peer closes one of the
// connections in the middle of an exchange.
var ErrConnectionBroken = errors.New("socket connection broken")

// ErrProtocol is returned on a malformed message from the door.
var ErrProtocol = errors.New("dcap protocol violation")

// OpenError is returned when the door denies opening a file.
type OpenError struct {
	Path string
	// Detail is the failure description sent by the door.
	Detail string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open file %s: %s", e.Path, e.Detail)
}

// ControlError is returned when the door replies with a failure to a
// control command other than open.
type ControlError struct {
	Command string
	Detail  string
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Detail)
}

// AckError is returned when the door acknowledges a data channel request
// with a non-zero result.
type AckError struct {
	Op     uint32
	Result int32
	// Message is the rest of the acknowledgement payload.
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("request %s failed with code %d: %s", opName(e.Op), e.Result, e.Message)
}

func opName(op uint32) string {
	switch op {
	case opWrite:
		return "WRITE"
	case opRead:
		return "READ"
	case opSeek:
		return "SEEK"
	case opClose:
		return "CLOSE"
	case opReadv:
		return "READV"
	default:
		return fmt.Sprintf("OP(%d)", op)
	}
}

func broken(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrConnectionBroken, err)
	}
	return err
}

// reply is a tokenized control line. The first four tokens are sequence
// number, zero, peer role and command, the rest is payload.
type reply []string

func parseReply(line string) (reply, error) {
	r := reply(strings.Fields(line))
	if len(r) < 4 {
		return nil, fmt.Errorf("%w: short control reply %q", ErrProtocol, line)
	}
	return r, nil
}

func (r reply) failed() bool {
	return r[3] == "failed"
}

// detail returns payload tokens starting from i joined back by spaces.
func (r reply) detail(i int) string {
	if i >= len(r) {
		return ""
	}
	return strings.Join(r[i:], " ")
}
