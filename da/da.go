// Package da implements the Direct-Access protocol: a synthetic "drive"
// exposed at a special cylinder so selector/configuration software running
// on the host can tunnel commands and block-device traffic without a real
// disk image mounted. Sector 0 of the DA cylinder is a status/command
// block; other sectors tunnel block-device reads/writes.
package da

import (
	"encoding/binary"
	"fmt"
)

// Signature is the 7-byte (plus NUL) tag identifying both the command and
// status sector layouts.
const Signature = "HxCFEDA\x00"

// Command identifies an operation written into the command sector.
type Command byte

const (
	CmdNop Command = iota
	CmdSetLBA
	CmdSetCyl
	CmdSetRPM
	CmdSelectImage
)

// SectorSize is the fixed 512-byte sector size the DA protocol speaks, like
// every other format in this module.
const SectorSize = 512

// State is the DA drive's persistent status, updated by each command and
// reported back in the status sector.
type State struct {
	FirmwareVersion string
	LBABase         uint32
	Cylinder        uint16
	RPM             uint16
	ImageIndex      uint16
	CmdCount        uint32
	LastCmdStatus   byte
}

// ParseCommand decodes a command sector written by the host. It returns an
// error if the signature doesn't match.
func ParseCommand(sector []byte) (Command, [4]byte, error) {
	if len(sector) < SectorSize {
		return 0, [4]byte{}, fmt.Errorf("da: command sector too short: %d bytes", len(sector))
	}
	if string(sector[:8]) != Signature {
		return 0, [4]byte{}, fmt.Errorf("da: bad command signature %q", sector[:8])
	}
	cmd := Command(sector[8])
	var param [4]byte
	copy(param[:], sector[9:13])
	return cmd, param, nil
}

// Apply executes cmd with the given little-endian parameter bytes against
// state, updating it in place and recording the outcome in LastCmdStatus.
func (s *State) Apply(cmd Command, param [4]byte) {
	s.CmdCount++
	s.LastCmdStatus = 0

	switch cmd {
	case CmdNop:
		// no-op
	case CmdSetLBA:
		s.LBABase = binary.LittleEndian.Uint32(param[:])
	case CmdSetCyl:
		s.Cylinder = binary.LittleEndian.Uint16(param[:2])
	case CmdSetRPM:
		s.RPM = binary.LittleEndian.Uint16(param[:2])
	case CmdSelectImage:
		s.ImageIndex = binary.LittleEndian.Uint16(param[:2])
	default:
		s.LastCmdStatus = 1 // unknown command
	}
}

// StatusSector renders the current state into a 512-byte status response,
// per the signature/layout documented above.
func (s *State) StatusSector() [SectorSize]byte {
	var sector [SectorSize]byte
	copy(sector[0:8], []byte(Signature))

	versionField := sector[8:40]
	copy(versionField, []byte(s.FirmwareVersion))

	binary.LittleEndian.PutUint32(sector[40:44], s.LBABase)
	binary.LittleEndian.PutUint16(sector[44:46], s.Cylinder)
	binary.LittleEndian.PutUint16(sector[46:48], s.RPM)
	binary.LittleEndian.PutUint16(sector[48:50], s.ImageIndex)
	binary.LittleEndian.PutUint32(sector[50:54], s.CmdCount)
	sector[54] = s.LastCmdStatus

	return sector
}

// Handle decodes a command sector, applies it to state, and returns the
// resulting status sector — the full request/response round trip.
func Handle(commandSector []byte, state *State) ([SectorSize]byte, error) {
	cmd, param, err := ParseCommand(commandSector)
	if err != nil {
		return [SectorSize]byte{}, err
	}
	state.Apply(cmd, param)
	return state.StatusSector(), nil
}
