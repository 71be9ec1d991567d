package hfe

import "fmt"

// Read a file in BKD format and return a Disk structure.
func ReadBKD(filename string) (*Disk, error) {
	return nil, fmt.Errorf("BKD format not yet implemented")
}

// Write a Disk structure to a BKD format file.
func WriteBKD(filename string, disk *Disk) error {
	return fmt.Errorf("BKD format not yet implemented")
}
