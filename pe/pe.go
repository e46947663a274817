package pe

import (
	"debug/pe"
	"io"
	"io/ioutil"
	"time"

	"github.com/go-errors/errors"
)

// Header contains information found in a PE header.
type Header struct {
	CompilationTimestamp time.Time `json:"compilationTimestamp"`
	Entrypoint           uint32    `json:"entrypoint"`
	TargetMachine        string    `json:"targetMachine"`
	ContainedSections    int       `json:"containedSections"`
}

// Info contains the header facts and resource listing of a PE file.
type Info struct {
	Header                       Header              `json:"header,omitempty"`
	Imphash                      string              `json:"imphash"`
	Imports                      map[string][]string `json:"imports,omitempty"`
	ContainedResourcesByType     map[string]int      `json:"containedResourcesByType,omitempty"`
	ContainedResourcesByLanguage map[string]int      `json:"containedResourcesByLanguage,omitempty"`
	Resources                    []Resource          `json:"resources,omitempty"`
}

// File is a parsed PE image together with its resource tree. It is read
// only after Open returns.
type File struct {
	image     *pe.File
	resources *ResourceDirectory
}

// Open parses the PE headers from r and walks the resource directory. A
// PE without a resource directory, or with an unreadable one, yields an
// empty tree rather than an error.
func Open(r io.ReaderAt) (*File, error) {
	peFile, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.WrapPrefix(err, "parsing pe", 0)
	}
	f := &File{
		image:     peFile,
		resources: &ResourceDirectory{},
	}

	directory := dataDirectory(peFile, pe.IMAGE_DIRECTORY_ENTRY_RESOURCE)
	if directory.VirtualAddress == 0 || directory.Size == 0 {
		return f, nil
	}
	section := f.sectionForRVA(directory.VirtualAddress)
	if section == nil {
		return f, nil
	}
	data, err := section.Data()
	if err != nil {
		return f, nil
	}
	start := int(directory.VirtualAddress - section.VirtualAddress)
	if start >= len(data) {
		return f, nil
	}
	if tree, err := parseResources(data[start:]); err == nil {
		f.resources = tree
	}
	return f, nil
}

// ResourceRoot returns the top level table of the resource tree.
func (f *File) ResourceRoot() *ResourceDirectory {
	return f.resources
}

func (f *File) sectionForRVA(rva uint32) *pe.Section {
	for _, s := range f.image.Sections {
		size := s.VirtualSize
		if s.Size > size {
			size = s.Size
		}
		if s.VirtualAddress <= rva && rva-s.VirtualAddress < size {
			return s
		}
	}
	return nil
}

// OffsetFromRVA translates an RVA into a raw file offset through the
// section table.
func (f *File) OffsetFromRVA(rva uint32) (int64, error) {
	section := f.sectionForRVA(rva)
	if section == nil {
		return 0, ErrMalformedResource
	}
	delta := rva - section.VirtualAddress
	if delta >= section.Size {
		// mapped in memory but not backed by file data
		return 0, ErrMalformedResource
	}
	return int64(section.Offset) + int64(delta), nil
}

// ReadRVA reads size bytes of file data starting at rva. The whole range
// has to be backed by the raw data of a single section.
func (f *File) ReadRVA(rva, size uint32) ([]byte, error) {
	section := f.sectionForRVA(rva)
	if section == nil {
		return nil, ErrMalformedResource
	}
	delta := int64(rva - section.VirtualAddress)
	if delta+int64(size) > int64(section.Size) {
		return nil, ErrMalformedResource
	}
	// read through a section reader so a bogus size can't force a huge
	// allocation before the file runs out
	data, err := ioutil.ReadAll(io.NewSectionReader(section, delta, int64(size)))
	if err != nil {
		return nil, errors.WrapPrefix(err, "reading resource data", 0)
	}
	if len(data) != int(size) {
		return nil, ErrMalformedResource
	}
	return data, nil
}

// Info summarizes the header, imports and resources of the file.
func (f *File) Info() *Info {
	var architecture string
	var entrypoint uint32
	switch header := f.image.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		architecture = "x32"
		entrypoint = header.AddressOfEntryPoint

	case *pe.OptionalHeader64:
		architecture = "x64"
		entrypoint = header.AddressOfEntryPoint

	default:
		architecture = "unknown"
	}

	info := &Info{
		Header: Header{
			CompilationTimestamp: time.Unix(int64(f.image.FileHeader.TimeDateStamp), 0).UTC(),
			Entrypoint:           entrypoint,
			TargetMachine:        architecture,
			ContainedSections:    len(f.image.Sections),
		},
		ContainedResourcesByType:     make(map[string]int),
		ContainedResourcesByLanguage: make(map[string]int),
		Resources:                    f.Resources(),
	}
	info.Imports, info.Imphash = f.Imports()
	for _, resource := range info.Resources {
		countValue(info.ContainedResourcesByType, resource.Type)
		countValue(info.ContainedResourcesByLanguage, resource.Language)
	}
	return info
}

// Parse parses the PE and returns information about it or errors.
func Parse(r io.ReaderAt) (*Info, error) {
	f, err := Open(r)
	if err != nil {
		return nil, err
	}
	return f.Info(), nil
}
