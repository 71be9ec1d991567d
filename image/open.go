package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergev/flashfloppy/dsk"
)

// OpenFile mounts path as an Image, picking the Handler by format: DSK
// images (detected by extension, falling back to signature sniffing) use
// DSKHandler; everything hfe.Read already knows how to auto-detect (HFE,
// ADF, IMG/IMA, and the rest of its format table) uses HFEHandler.
func OpenFile(path string) (*Image, error) {
	var handler Handler
	if strings.EqualFold(filepath.Ext(path), ".dsk") || dsk.Detect(sniff(path)) {
		handler = NewDSKHandler(path)
	} else {
		handler = NewHFEHandler(path)
	}

	img := &Image{Handler: handler}
	if err := handler.Open(img); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return img, nil
}

func sniff(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 16)
	n, _ := f.Read(buf)
	return buf[:n]
}
