// Package pebuild writes minimal PE32 images that carry nothing but a
// resource section. It exists to give tests real files to parse.
package pebuild

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
)

const (
	SizeOfImageDOSHeader = 64

	fileAlignment    = 0x200
	sectionAlignment = 0x1000
	resourceRVA      = 0x1000

	sizeOfResourceDirectory      = 16
	sizeOfResourceDirectoryEntry = 8
	sizeOfResourceDataEntry      = 16
	sizeOfImportDescriptor       = 20

	// LanguageEnglishUS is the LANGID used when a Resource doesn't set one.
	LanguageEnglishUS = 1033
)

// Resource is one leaf of the resource tree. Leaves are grouped by Type in
// order of first appearance.
type Resource struct {
	Type     uint32
	ID       uint32
	Language uint32
	Data     []byte
	// Flat puts the data entry directly at the name level instead of
	// under a language table.
	Flat bool
	// Nested adds an extra table level between the name and the data,
	// so the first-child descent ends on a directory.
	Nested bool
	// Size overrides the size declared by the data entry when non zero.
	Size uint32
}

type resourceType struct {
	id      uint32
	entries []Resource
}

func groupByType(resources []Resource) []*resourceType {
	types := []*resourceType{}
	index := map[uint32]*resourceType{}
	for _, resource := range resources {
		group, ok := index[resource.Type]
		if !ok {
			group = &resourceType{id: resource.Type}
			index[resource.Type] = group
			types = append(types, group)
		}
		group.entries = append(group.entries, resource)
	}
	return types
}

func align(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

type writer struct {
	data []byte
}

func (w *writer) table(offset, entries int) {
	binary.LittleEndian.PutUint16(w.data[offset+8:], 4)
	binary.LittleEndian.PutUint16(w.data[offset+14:], uint16(entries))
}

func (w *writer) entry(offset int, id, target uint32) {
	binary.LittleEndian.PutUint32(w.data[offset:], id)
	binary.LittleEndian.PutUint32(w.data[offset+4:], target)
}

func (w *writer) dataEntry(offset int, rva, size uint32) {
	binary.LittleEndian.PutUint32(w.data[offset:], rva)
	binary.LittleEndian.PutUint32(w.data[offset+4:], size)
	binary.LittleEndian.PutUint32(w.data[offset+8:], 1252)
}

// ResourceSection lays out the resource tree the way resource compilers do:
// all tables first, then the data entries, then the data itself. Offsets in
// the tables are relative to the section start, data entries carry RVAs
// based at rva.
func ResourceSection(resources []Resource, rva uint32) []byte {
	types := groupByType(resources)

	// first pass: tables
	size := sizeOfResourceDirectory + sizeOfResourceDirectoryEntry*len(types)
	typeOffsets := make([]int, len(types))
	for i, group := range types {
		typeOffsets[i] = size
		size += sizeOfResourceDirectory + sizeOfResourceDirectoryEntry*len(group.entries)
	}
	tableOffsets := make([][]int, len(types))
	for i, group := range types {
		tableOffsets[i] = make([]int, len(group.entries))
		for j, resource := range group.entries {
			tableOffsets[i][j] = size
			if resource.Flat {
				continue
			}
			size += sizeOfResourceDirectory + sizeOfResourceDirectoryEntry
			if resource.Nested {
				size += sizeOfResourceDirectory + sizeOfResourceDirectoryEntry
			}
		}
	}

	// second pass: data entries and data
	dataEntryOffsets := make([][]int, len(types))
	for i, group := range types {
		dataEntryOffsets[i] = make([]int, len(group.entries))
		for j := range group.entries {
			dataEntryOffsets[i][j] = size
			size += sizeOfResourceDataEntry
		}
	}
	dataOffsets := make([][]int, len(types))
	for i, group := range types {
		dataOffsets[i] = make([]int, len(group.entries))
		for j, resource := range group.entries {
			size = align(size, 4)
			dataOffsets[i][j] = size
			size += len(resource.Data)
		}
	}

	w := &writer{data: make([]byte, size)}
	w.table(0, len(types))
	for i, group := range types {
		w.entry(sizeOfResourceDirectory+sizeOfResourceDirectoryEntry*i, group.id, 0x80000000|uint32(typeOffsets[i]))
		w.table(typeOffsets[i], len(group.entries))
		for j, resource := range group.entries {
			entryOffset := typeOffsets[i] + sizeOfResourceDirectory + sizeOfResourceDirectoryEntry*j
			dataEntryOffset := uint32(dataEntryOffsets[i][j])
			if resource.Flat {
				w.entry(entryOffset, resource.ID, dataEntryOffset)
			} else {
				language := resource.Language
				if language == 0 {
					language = LanguageEnglishUS
				}
				table := tableOffsets[i][j]
				w.entry(entryOffset, resource.ID, 0x80000000|uint32(table))
				w.table(table, 1)
				if resource.Nested {
					nested := table + sizeOfResourceDirectory + sizeOfResourceDirectoryEntry
					w.entry(table+sizeOfResourceDirectory, language, 0x80000000|uint32(nested))
					w.table(nested, 1)
					w.entry(nested+sizeOfResourceDirectory, language, dataEntryOffset)
				} else {
					w.entry(table+sizeOfResourceDirectory, language, dataEntryOffset)
				}
			}

			declared := resource.Size
			if declared == 0 {
				declared = uint32(len(resource.Data))
			}
			w.dataEntry(dataEntryOffsets[i][j], rva+uint32(dataOffsets[i][j]), declared)
			copy(w.data[dataOffsets[i][j]:], resource.Data)
		}
	}
	return w.data
}

// Import lists what a PE imports from one library.
type Import struct {
	Library   string
	Functions []string
	Ordinals  []uint16
}

// ImportSection lays out the import directory: the descriptors, then one
// lookup table per library, then the hint/name entries and library names.
// Descriptors use the lookup table as both their original and their first
// thunk.
func ImportSection(imports []Import, rva uint32) []byte {
	fixed := sizeOfImportDescriptor * (len(imports) + 1)
	for _, imp := range imports {
		fixed += 4 * (len(imp.Functions) + len(imp.Ordinals) + 1)
	}
	head := make([]byte, fixed)
	var tail bytes.Buffer
	name := func(hint bool, value string) uint32 {
		offset := fixed + tail.Len()
		if hint {
			tail.Write([]byte{0, 0})
		}
		tail.WriteString(value)
		tail.WriteByte(0)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
		return rva + uint32(offset)
	}

	thunk := sizeOfImportDescriptor * (len(imports) + 1)
	for i, imp := range imports {
		descriptor := head[sizeOfImportDescriptor*i:]
		binary.LittleEndian.PutUint32(descriptor[0:], rva+uint32(thunk))
		binary.LittleEndian.PutUint32(descriptor[12:], name(false, imp.Library))
		binary.LittleEndian.PutUint32(descriptor[16:], rva+uint32(thunk))
		for _, function := range imp.Functions {
			binary.LittleEndian.PutUint32(head[thunk:], name(true, function))
			thunk += 4
		}
		for _, ordinal := range imp.Ordinals {
			binary.LittleEndian.PutUint32(head[thunk:], 0x80000000|uint32(ordinal))
			thunk += 4
		}
		// null terminator
		thunk += 4
	}
	return append(head, tail.Bytes()...)
}

type section struct {
	name      string
	data      []byte
	rva       uint32
	directory int
}

// Build returns a PE32 image whose only section is .rsrc holding resources.
func Build(resources []Resource) []byte {
	return BuildWithImports(resources, nil)
}

// BuildWithImports is Build with an additional .idata section when imports
// is not empty.
func BuildWithImports(resources []Resource, imports []Import) []byte {
	rsrc := ResourceSection(resources, resourceRVA)
	sections := []section{{name: ".rsrc", data: rsrc, rva: resourceRVA, directory: pe.IMAGE_DIRECTORY_ENTRY_RESOURCE}}
	if len(imports) > 0 {
		rva := uint32(resourceRVA + align(len(rsrc), sectionAlignment))
		sections = append(sections, section{name: ".idata", data: ImportSection(imports, rva), rva: rva, directory: pe.IMAGE_DIRECTORY_ENTRY_IMPORT})
	}
	last := sections[len(sections)-1]

	optionalHeader := pe.OptionalHeader32{
		Magic:               0x10b,
		ImageBase:           0x400000,
		SectionAlignment:    sectionAlignment,
		FileAlignment:       fileAlignment,
		SizeOfImage:         last.rva + uint32(align(len(last.data), sectionAlignment)),
		SizeOfHeaders:       fileAlignment,
		Subsystem:           2,
		NumberOfRvaAndSizes: 16,
	}
	headers := make([]pe.SectionHeader32, len(sections))
	pointer := fileAlignment
	for i, s := range sections {
		optionalHeader.DataDirectory[s.directory] = pe.DataDirectory{
			VirtualAddress: s.rva,
			Size:           uint32(len(s.data)),
		}
		rawSize := align(len(s.data), fileAlignment)
		headers[i] = pe.SectionHeader32{
			VirtualSize:      uint32(len(s.data)),
			VirtualAddress:   s.rva,
			SizeOfRawData:    uint32(rawSize),
			PointerToRawData: uint32(pointer),
			Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
		}
		copy(headers[i].Name[:], s.name)
		pointer += rawSize
	}

	var buf bytes.Buffer
	dosHeader := make([]byte, SizeOfImageDOSHeader)
	dosHeader[0], dosHeader[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dosHeader[0x3c:], SizeOfImageDOSHeader)
	buf.Write(dosHeader)
	buf.Write([]byte{'P', 'E', 0, 0})
	mustWrite(&buf, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     uint16(len(sections)),
		TimeDateStamp:        1500000000,
		SizeOfOptionalHeader: uint16(binary.Size(optionalHeader)),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE,
	})
	mustWrite(&buf, optionalHeader)
	for _, header := range headers {
		mustWrite(&buf, header)
	}
	buf.Write(make([]byte, fileAlignment-buf.Len()))
	for _, s := range sections {
		buf.Write(s.data)
		buf.Write(make([]byte, align(len(s.data), fileAlignment)-len(s.data)))
	}
	return buf.Bytes()
}

func mustWrite(buf *bytes.Buffer, value interface{}) {
	if err := binary.Write(buf, binary.LittleEndian, value); err != nil {
		panic(err)
	}
}

// GroupIconEntry mirrors a GRPICONDIRENTRY.
type GroupIconEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16
}

// GroupIcon encodes RT_GROUP_ICON data: a GRPICONDIR header with the given
// reserved, type and count fields followed by entries.
func GroupIcon(reserved, typ, count uint16, entries ...GroupIconEntry) []byte {
	var buf bytes.Buffer
	mustWrite(&buf, [3]uint16{reserved, typ, count})
	for _, entry := range entries {
		mustWrite(&buf, entry)
	}
	return buf.Bytes()
}

// PNG encodes a solid width x height image.
func PNG(width, height int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DIB returns a blank 32bpp icon bitmap: BITMAPINFOHEADER with doubled
// height, XOR pixels and the AND mask.
func DIB(width, height int) []byte {
	stride := width * 4
	maskStride := (((width) + 31) &^ 31) / 8
	var buf bytes.Buffer
	mustWrite(&buf, struct {
		Size            uint32
		Width           int32
		Height          int32
		Planes          uint16
		BPP             uint16
		Compression     uint32
		ImageSize       uint32
		XPixelsPerMeter int32
		YPixelsPerMeter int32
		ColorsUsed      uint32
		ColorsImportant uint32
	}{
		Size:   40,
		Width:  int32(width),
		Height: int32(height * 2),
		Planes: 1,
		BPP:    32,
	})
	buf.Write(make([]byte, stride*height+maskStride*height))
	return buf.Bytes()
}
