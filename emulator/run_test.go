package emulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sergev/flashfloppy/hfe"
)

// writeTestIMG writes a blank single-sided, 40-cylinder IMG-compatible
// raw sector image matching one of hfe.imgKnownGeometries' recognised
// sizes, so image.OpenFile can mount it without a real floppy dump on disk.
func writeTestIMG(t *testing.T) string {
	t.Helper()
	const cyls, heads, sectorsPerTrack, sectorSize = 40, 1, 9, 512
	data := make([]byte, cyls*heads*sectorsPerTrack*sectorSize)
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write test image: %v", err)
	}
	return path
}

func TestRunMountsAndDrivesImage(t *testing.T) {
	path := writeTestIMG(t)
	if err := Run(path); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConvertRoundTripsIMGToHFE(t *testing.T) {
	src := writeTestIMG(t)
	dest := filepath.Join(t.TempDir(), "disk.hfe")

	disk, err := hfe.Read(src)
	if err != nil {
		t.Fatalf("read source image: %v", err)
	}
	if err := hfe.Write(dest, disk); err != nil {
		t.Fatalf("write destination image: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected converted file to exist: %v", err)
	}
}
