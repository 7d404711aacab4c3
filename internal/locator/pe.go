package locator

import (
	"debug/pe"
	"fmt"
)

const (
	scnCntCode    = 0x00000020
	scnMemExecute = 0x20000000
)

// FileMatch is a signature hit inside a PE file on disk.
type FileMatch struct {
	Section string
	// VA is the virtual address at the file's preferred image base.
	VA uint64
	// RVA is relative to the image base.
	RVA uint32
}

// ScanPEFile runs the signature over every executable section of the PE
// image at path and returns the first hit.
func ScanPEFile(path string, p Pattern) (FileMatch, error) {
	f, err := pe.Open(path)
	if err != nil {
		return FileMatch{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var imageBase uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
	}

	for _, s := range f.Sections {
		if s.Characteristics&(scnCntCode|scnMemExecute) == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return FileMatch{}, fmt.Errorf("read section %s: %w", s.Name, err)
		}
		if off := Index(data, p); off >= 0 {
			rva := s.VirtualAddress + uint32(off)
			return FileMatch{Section: s.Name, VA: imageBase + uint64(rva), RVA: rva}, nil
		}
	}
	return FileMatch{}, fmt.Errorf("%w in %s", ErrNotFound, path)
}
