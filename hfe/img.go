package hfe

import (
	"fmt"
	"os"

	"github.com/sergev/flashfloppy/mfm"
)

const imgSectorSize = 512

// imgGeometry describes a raw sector image's cylinder/head/sector layout.
type imgGeometry struct {
	cylinders       int
	heads           int
	sectorsPerTrack int
	bitRate         uint16 // kb/s
	rpm             uint16
}

// imgKnownGeometries lists the standard IBM-PC media sizes recognised by
// file size alone, most common first.
var imgKnownGeometries = []imgGeometry{
	{80, 2, 18, 500, 300}, // 3.5" 1.44MB HD
	{80, 2, 9, 250, 300},  // 3.5" 720KB DD
	{80, 2, 15, 500, 360}, // 5.25" 1.2MB HD
	{40, 2, 9, 250, 300},  // 5.25" 360KB DD
	{40, 1, 9, 250, 300},  // 5.25" 180KB SD
}

func imgGeometryForSize(size int64) (imgGeometry, error) {
	for _, g := range imgKnownGeometries {
		if int64(g.cylinders*g.heads*g.sectorsPerTrack*imgSectorSize) == size {
			return g, nil
		}
	}
	return imgGeometry{}, fmt.Errorf("unrecognized IMG size %d bytes", size)
}

// ReadIMG reads a file in IMG or IMA format and returns a Disk structure.
// IMG files are a flat, sector-by-sector dump with no embedded geometry;
// geometry is inferred from the file size against the standard media
// layouts above.
func ReadIMG(filename string) (*Disk, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	geometry, err := imgGeometryForSize(fileInfo.Size())
	if err != nil {
		return nil, err
	}

	totalSectors := geometry.cylinders * geometry.heads * geometry.sectorsPerTrack
	sectors := make([][]byte, totalSectors)
	for i := 0; i < totalSectors; i++ {
		sectorData := make([]byte, imgSectorSize)
		if _, err := file.Read(sectorData); err != nil {
			return nil, fmt.Errorf("failed to read sector %d: %w", i, err)
		}
		sectors[i] = sectorData
	}

	disk := &Disk{
		Header: Header{
			NumberOfTrack:       uint8(geometry.cylinders),
			NumberOfSide:        uint8(geometry.heads),
			TrackEncoding:       ENC_ISOIBM_MFM,
			BitRate:             geometry.bitRate,
			FloppyRPM:           geometry.rpm,
			FloppyInterfaceMode: IFM_IBMPC_HD,
			WriteProtected:      0xFF,
			WriteAllowed:        0xFF,
			SingleStep:          0xFF,
			Track0S0AltEncoding: 0xFF,
			Track0S0Encoding:    ENC_ISOIBM_MFM,
			Track0S1AltEncoding: 0xFF,
			Track0S1Encoding:    ENC_ISOIBM_MFM,
		},
		Tracks:      make([]TrackData, geometry.cylinders),
		VerifyIBMPC: true,
	}

	maxHalfBits := int(geometry.bitRate) * 1000 * 60 / int(geometry.rpm) * 2

	for cyl := 0; cyl < geometry.cylinders; cyl++ {
		for head := 0; head < geometry.heads; head++ {
			trackSectors := make([][]byte, geometry.sectorsPerTrack)
			for s := 0; s < geometry.sectorsPerTrack; s++ {
				trackIndex := cyl*geometry.heads + head
				sectorIndex := trackIndex*geometry.sectorsPerTrack + s
				trackSectors[s] = sectors[sectorIndex]
			}

			writer := mfm.NewWriter(maxHalfBits)
			mfmData := writer.EncodeTrackIBMPC(trackSectors, cyl, head, geometry.sectorsPerTrack)

			if head == 0 {
				disk.Tracks[cyl].Side0 = mfmData
			} else {
				disk.Tracks[cyl].Side1 = mfmData
			}
		}
	}

	return disk, nil
}

// WriteIMG writes a Disk structure to an IMG or IMA format file.
func WriteIMG(filename string, disk *Disk) error {
	numCylinders := int(disk.Header.NumberOfTrack)
	numHeads := int(disk.Header.NumberOfSide)
	if numCylinders == 0 || numHeads == 0 {
		return fmt.Errorf("invalid disk geometry: %d cylinders, %d heads", numCylinders, numHeads)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	for cyl := 0; cyl < numCylinders; cyl++ {
		for head := 0; head < numHeads; head++ {
			var sideData []byte
			if head == 0 {
				sideData = disk.Tracks[cyl].Side0
			} else {
				sideData = disk.Tracks[cyl].Side1
			}
			if len(sideData) == 0 {
				return fmt.Errorf("empty track %d.%d", cyl, head)
			}

			reader := mfm.NewReader(sideData)
			sectorsPerTrack := reader.CountSectorsIBMPC()
			reader = mfm.NewReader(sideData)

			sectors := make(map[int][]byte)
			for len(sectors) < sectorsPerTrack {
				sectorNum, sectorData, err := reader.ReadSectorIBMPC(cyl, head)
				if err != nil {
					break
				}
				sectors[sectorNum] = sectorData
			}

			for s := 1; s <= sectorsPerTrack; s++ {
				sectorData, found := sectors[s]
				if !found {
					return fmt.Errorf("missing sector %d of track %d.%d", s, cyl, head)
				}
				if _, err := file.Write(sectorData); err != nil {
					return fmt.Errorf("failed to write sector %d of track %d.%d: %w", s, cyl, head, err)
				}
			}
		}
	}

	return nil
}
