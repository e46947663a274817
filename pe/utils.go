package pe

import (
	"debug/pe"

	"github.com/go-errors/errors"
)

var (
	// ErrResourceNotFound is returned when a lookup in the resource tree
	// has no match.
	ErrResourceNotFound = errors.Errorf("resource not found")
	// ErrMalformedResource is returned when a resource structure is out of
	// bounds or fails validation.
	ErrMalformedResource = errors.Errorf("malformed resource")
)

func countValue(group map[string]int, value string) {
	group[value]++
}

func dataDirectory(f *pe.File, index int) pe.DataDirectory {
	var emptyDirectory pe.DataDirectory
	switch header := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		if header.NumberOfRvaAndSizes < uint32(index+1) {
			return emptyDirectory
		}
		return header.DataDirectory[index]
	case *pe.OptionalHeader32:
		if header.NumberOfRvaAndSizes < uint32(index+1) {
			return emptyDirectory
		}
		return header.DataDirectory[index]
	}
	return emptyDirectory
}
