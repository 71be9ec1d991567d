// Package dsk implements the Amstrad/Spectrum DSK image format: a Disk
// Information Block followed by one Track Information Block per track, each
// carrying a Sector Information Block per sector. Unlike HFE-backed formats,
// DSK stores decoded sector bytes directly (no MFM bitstream), and a sector
// may declare more than one stored copy — a "weak" sector whose successive
// reads cycle through the declared alternatives, used by some protections
// to return different data on each revolution.
package dsk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	standardSignature = "MV - CPC"
	extendedSignature = "EXTENDED CPC DSK"

	diskInfoBlockSize  = 256
	trackInfoBlockSize = 256
	sectorInfoSize     = 8
)

// Sector holds one sector's identifier fields and its stored copies. Most
// sectors have exactly one copy; a weak sector has more than one, and reads
// cycle through them.
type Sector struct {
	Cylinder byte
	Head     byte
	Number   byte
	SizeCode byte
	Status1  byte
	Status2  byte

	Copies [][]byte
	next   int // cursor into Copies, advanced by each ReadWeak
}

// IsWeak reports whether this sector has more than one stored copy.
func (s *Sector) IsWeak() bool {
	return len(s.Copies) > 1
}

// ReadWeak returns the sector's current copy and advances the cursor to the
// next declared alternative, wrapping around. For a non-weak sector this
// always returns the same (only) copy.
func (s *Sector) ReadWeak() []byte {
	data := s.Copies[s.next%len(s.Copies)]
	s.next++
	return data
}

// Track is one cylinder/head's sectors, in the physical order recorded by
// the Track Information Block.
type Track struct {
	Cylinder int
	Head     int
	Sectors  []Sector
}

// Disk is a full DSK image: creator string and one Track per (cylinder,
// head) pair in DIB order.
type Disk struct {
	Creator  string
	Extended bool
	Tracks   []Track
}

func sizeCodeToBytes(sizeCode byte) int {
	return 128 << sizeCode
}

// Detect reports whether data begins with a recognised DSK signature.
func Detect(data []byte) bool {
	if len(data) < 16 {
		return false
	}
	return bytes.HasPrefix(data, []byte(standardSignature)) ||
		bytes.HasPrefix(data, []byte(extendedSignature))
}

// Read parses a DSK image from filename.
func Read(filename string) (*Disk, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a DSK image already loaded into memory.
func Parse(data []byte) (*Disk, error) {
	if !Detect(data) {
		return nil, fmt.Errorf("not a DSK image: missing signature")
	}
	extended := bytes.HasPrefix(data, []byte(extendedSignature))

	if len(data) < diskInfoBlockSize {
		return nil, fmt.Errorf("truncated disk information block")
	}
	dib := data[:diskInfoBlockSize]
	creator := string(bytes.TrimRight(dib[0x22:0x30], "\x00 "))
	numTracks := int(dib[0x30])
	numHeads := int(dib[0x31])

	disk := &Disk{Creator: creator, Extended: extended}

	var trackSizes []int
	offset := diskInfoBlockSize
	if extended {
		trackSizes = make([]int, numTracks*numHeads)
		for i := range trackSizes {
			// Extended DSK stores track size in 256-byte units at 0x34+i.
			trackSizes[i] = int(dib[0x34+i]) * 256
		}
	} else {
		// Standard DSK: single uniform track size for all tracks.
		size := int(binary.LittleEndian.Uint16(dib[0x32:0x34]))
		trackSizes = make([]int, numTracks*numHeads)
		for i := range trackSizes {
			trackSizes[i] = size
		}
	}

	for t := 0; t < numTracks*numHeads; t++ {
		size := trackSizes[t]
		if size == 0 {
			continue // unformatted track
		}
		if offset+trackInfoBlockSize > len(data) {
			return nil, fmt.Errorf("truncated track %d", t)
		}
		tib := data[offset : offset+trackInfoBlockSize]
		if !bytes.HasPrefix(tib, []byte("Track-Info")) {
			return nil, fmt.Errorf("track %d: bad Track-Info signature", t)
		}

		cyl := int(tib[0x10])
		head := int(tib[0x11])
		sectorSize := int(tib[0x14])
		numSectors := int(tib[0x15])

		track := Track{Cylinder: cyl, Head: head, Sectors: make([]Sector, numSectors)}

		// For extended DSK each sector declares its own stored length, so a
		// weak sector is visible directly. Standard DSK has no per-sector
		// length field; a track carrying weak sectors instead stores a
		// uniform multiple of the nominal sector size across the whole
		// track, so the multiplier is derived from the track's total
		// payload versus its nominal total.
		trackPayload := size - trackInfoBlockSize
		nominalTotal := numSectors * sizeCodeToBytes(byte(sectorSize))
		uniformMultiplier := 1
		if !extended && nominalTotal > 0 && trackPayload > nominalTotal && trackPayload%nominalTotal == 0 {
			uniformMultiplier = trackPayload / nominalTotal
		}

		dataOffset := offset + trackInfoBlockSize
		for s := 0; s < numSectors; s++ {
			entry := tib[0x18+s*sectorInfoSize : 0x18+(s+1)*sectorInfoSize]
			sec := Sector{
				Cylinder: entry[0],
				Head:     entry[1],
				Number:   entry[2],
				SizeCode: entry[3],
				Status1:  entry[4],
				Status2:  entry[5],
			}

			nominal := 128 << sectorSize
			actualLen := sizeCodeToBytes(sec.SizeCode) * uniformMultiplier
			if extended {
				declared := int(binary.LittleEndian.Uint16(entry[6:8]))
				if declared > 0 {
					actualLen = declared
				}
			}

			// A weak/multi-read sector stores N copies back-to-back, where
			// N = actualLen / nominal when actualLen is larger than the
			// track's nominal sector size and an exact multiple of it.
			copies := 1
			if nominal > 0 && actualLen > nominal && actualLen%nominal == 0 {
				copies = actualLen / nominal
			}
			perCopy := actualLen / copies
			if perCopy == 0 {
				perCopy = actualLen
			}

			sec.Copies = make([][]byte, 0, copies)
			readOffset := dataOffset
			for c := 0; c < copies; c++ {
				if readOffset+perCopy > len(data) {
					return nil, fmt.Errorf("track %d sector %d: truncated sector data", t, s)
				}
				buf := make([]byte, perCopy)
				copy(buf, data[readOffset:readOffset+perCopy])
				sec.Copies = append(sec.Copies, buf)
				readOffset += perCopy
			}
			dataOffset += actualLen

			track.Sectors[s] = sec
		}

		disk.Tracks = append(disk.Tracks, track)
		offset += size
	}

	return disk, nil
}

// FindTrack returns the track at (cylinder, head), or nil if absent
// (unformatted).
func (d *Disk) FindTrack(cylinder, head int) *Track {
	for i := range d.Tracks {
		if d.Tracks[i].Cylinder == cylinder && d.Tracks[i].Head == head {
			return &d.Tracks[i]
		}
	}
	return nil
}

// FindSector returns the sector numbered n within the track, or nil.
func (t *Track) FindSector(n byte) *Sector {
	for i := range t.Sectors {
		if t.Sectors[i].Number == n {
			return &t.Sectors[i]
		}
	}
	return nil
}
