package pe

import (
	"crypto/md5"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

const emptyHash = "d41d8cd98f00b204e9800998ecf8427e"

const sizeOfImportDescriptor = 20

func readString(section []byte, start int) string {
	if start < 0 || start >= len(section) {
		return ""
	}

	for end := start; end < len(section); end++ {
		if section[end] == 0 {
			return string(section[start:end])
		}
	}
	return ""
}

func normalizeLibraryName(name string) string {
	name = strings.ToLower(name)
	extension := filepath.Ext(name)
	if extension == ".ocx" ||
		extension == ".sys" ||
		extension == ".dll" {
		return name[:len(name)-4]
	}
	return name
}

// importSection is the raw data of the section holding the import
// directory, addressed by RVA.
type importSection struct {
	data []byte
	base uint32
}

func (s importSection) offset(rva uint32) (int, bool) {
	if rva < s.base || rva-s.base >= uint32(len(s.data)) {
		return 0, false
	}
	return int(rva - s.base), true
}

func (s importSection) cstring(rva uint32) string {
	offset, ok := s.offset(rva)
	if !ok {
		return ""
	}
	return readString(s.data, offset)
}

func (f *File) importSection() (importSection, uint32, bool) {
	directory := dataDirectory(f.image, pe.IMAGE_DIRECTORY_ENTRY_IMPORT)
	if directory.VirtualAddress == 0 || directory.Size == 0 {
		return importSection{}, 0, false
	}
	section := f.sectionForRVA(directory.VirtualAddress)
	if section == nil {
		return importSection{}, 0, false
	}
	data, err := section.Data()
	if err != nil {
		return importSection{}, 0, false
	}
	return importSection{data: data, base: section.VirtualAddress}, directory.VirtualAddress, true
}

// Imports walks the import directory and returns the functions imported by
// name, keyed by library, along with the imphash of the file. Functions
// imported by ordinal count towards the hash as "ord<N>". A file without
// imports hashes to the MD5 of nothing.
func (f *File) Imports() (map[string][]string, string) {
	symbols := make(map[string][]string)
	section, address, ok := f.importSection()
	if !ok {
		return symbols, emptyHash
	}
	_, pe64 := f.image.OptionalHeader.(*pe.OptionalHeader64)
	thunkSize := uint32(4)
	if pe64 {
		thunkSize = 8
	}

	imphashEntries := []string{}
	for descriptor := address; ; descriptor += sizeOfImportDescriptor {
		offset, ok := section.offset(descriptor)
		if !ok || offset+sizeOfImportDescriptor > len(section.data) {
			break
		}
		directoryData := section.data[offset : offset+sizeOfImportDescriptor]
		thunk := binary.LittleEndian.Uint32(directoryData[0:4])
		name := binary.LittleEndian.Uint32(directoryData[12:16])
		if thunk == 0 {
			// no lookup table, fall back to the address table
			thunk = binary.LittleEndian.Uint32(directoryData[16:20])
		}
		if thunk == 0 && name == 0 {
			break
		}

		dllName := section.cstring(name)
		normalizedDllName := normalizeLibraryName(dllName)
		for ; ; thunk += thunkSize {
			functionOffset, ok := section.offset(thunk)
			if !ok || functionOffset+int(thunkSize) > len(section.data) {
				break
			}
			functionData := section.data[functionOffset:]

			var functionAddress uint64
			var isOrdinal bool
			if pe64 {
				functionAddress = binary.LittleEndian.Uint64(functionData[0:8])
				isOrdinal = functionAddress&0x8000000000000000 > 0
			} else {
				functionAddress = uint64(binary.LittleEndian.Uint32(functionData[0:4]))
				isOrdinal = functionAddress&0x80000000 > 0
			}
			if functionAddress == 0 {
				break
			}

			if isOrdinal {
				ordinal := fmt.Sprintf("ord%d", functionAddress&0xffff)
				imphashEntries = append(imphashEntries, normalizedDllName+"."+ordinal)
				continue
			}
			// skip the two byte hint
			functionName := section.cstring(uint32(functionAddress) + 2)
			symbols[dllName] = append(symbols[dllName], functionName)
			imphashEntries = append(imphashEntries, normalizedDllName+"."+strings.ToLower(functionName))
		}
	}

	hash := md5.Sum([]byte(strings.Join(imphashEntries, ",")))
	return symbols, hex.EncodeToString(hash[:])
}
