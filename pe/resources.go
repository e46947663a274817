package pe

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	sha256 "github.com/minio/sha256-simd"

	"github.com/andrewstucki/icontools/internal"
	"github.com/h2non/filetype"
)

// Resource type ids as stored in the first level of the resource tree.
const (
	RTCursor       uint32 = 1
	RTBitmap       uint32 = 2
	RTIcon         uint32 = 3
	RTMenu         uint32 = 4
	RTDialog       uint32 = 5
	RTString       uint32 = 6
	RTFontdir      uint32 = 7
	RTFont         uint32 = 8
	RTAccelerator  uint32 = 9
	RTRcdata       uint32 = 10
	RTMessagetable uint32 = 11
	RTGroupCursor  uint32 = 12
	RTGroupIcon    uint32 = 14
	RTVersion      uint32 = 16
	RTDlginclude   uint32 = 17
	RTPlugplay     uint32 = 19
	RTVxd          uint32 = 20
	RTAnicursor    uint32 = 21
	RTAniicon      uint32 = 22
	RTHTML         uint32 = 23
	RTManifest     uint32 = 24
)

const (
	sizeOfResourceDirectory      = 16
	sizeOfResourceDirectoryEntry = 8
	sizeOfResourceDataEntry      = 16

	// real trees are three levels deep (type, name, language)
	maxResourceDepth = 8
)

var nameMap = map[uint32]string{
	RTCursor:       "RT_CURSOR",
	RTBitmap:       "RT_BITMAP",
	RTIcon:         "RT_ICON",
	RTMenu:         "RT_MENU",
	RTDialog:       "RT_DIALOG",
	RTString:       "RT_STRING",
	RTFontdir:      "RT_FONTDIR",
	RTFont:         "RT_FONT",
	RTAccelerator:  "RT_ACCELERATOR",
	RTRcdata:       "RT_RCDATA",
	RTMessagetable: "RT_MESSAGETABLE",
	RTGroupCursor:  "RT_GROUP_CURSOR",
	RTGroupIcon:    "RT_GROUP_ICON",
	RTVersion:      "RT_VERSION",
	RTDlginclude:   "RT_DLGINCLUDE",
	RTPlugplay:     "RT_PLUGPLAY",
	RTVxd:          "RT_VXD",
	RTAnicursor:    "RT_ANICURSOR",
	RTAniicon:      "RT_ANIICON",
	RTHTML:         "RT_HTML",
	RTManifest:     "RT_MANIFEST",
}

// TypeName returns the symbolic name of a resource type id, or its decimal
// form for unknown ids.
func TypeName(id uint32) string {
	if found, ok := nameMap[id]; ok {
		return found
	}
	return strconv.Itoa(int(id))
}

// ResourceDirectory is one table of the resource tree.
type ResourceDirectory struct {
	Characteristics uint32
	TimeDateStamp   uint32
	MajorVersion    uint16
	MinorVersion    uint16
	Entries         []*ResourceEntry
}

// ResourceEntry is a node of the resource tree. Exactly one of Directory
// and Data is set for a well formed entry; an entry whose target could not
// be parsed has neither, so ordinal positions stay stable.
type ResourceEntry struct {
	ID        uint32
	Name      string
	Named     bool
	Directory *ResourceDirectory
	Data      *ResourceDataEntry
}

// IsDirectory reports whether the entry points at a nested table.
func (e *ResourceEntry) IsDirectory() bool {
	return e.Directory != nil
}

// ResourceDataEntry describes a leaf. OffsetToData is an RVA.
type ResourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
}

// Resource represents a leaf resource embedded in a PE file.
type Resource struct {
	Type     string `json:"type"`
	ID       uint32 `json:"id"`
	Language string `json:"language"`
	Size     int    `json:"size"`
	SHA256   string `json:"sha256"`
	MIME     string `json:"mime"`

	data []byte
}

// Data returns the raw resource bytes.
func (r Resource) Data() []byte {
	return r.data
}

func hasHighBit(value uint32) bool {
	return (value & 0x80000000) > 0
}

func lowBits(value uint32) int {
	return int(value & 0x7fffffff)
}

// this masks off the high bit and then does a bounds check on the
// slice that is returned
func followOffset(global []byte, value uint32, requiredSize int) ([]byte, error) {
	offset := lowBits(value)
	if len(global) < offset+requiredSize {
		return nil, ErrMalformedResource
	}
	return global[offset:], nil
}

// the parser is permissive: a child whose target is out of bounds is kept as
// an empty entry instead of failing the whole tree, and each table may only
// be visited once so looping or shared tables can't blow up the walk
type resourceParser struct {
	global  []byte
	visited map[int]struct{}
}

func parseResources(global []byte) (*ResourceDirectory, error) {
	parser := &resourceParser{
		global:  global,
		visited: make(map[int]struct{}),
	}
	return parser.parseDirectory(0, 0)
}

func (p *resourceParser) parseName(value uint32) (string, error) {
	nameData, err := followOffset(p.global, value, 2)
	if err != nil {
		return "", err
	}
	nameEnd := int(binary.LittleEndian.Uint16(nameData[0:2]))*2 + 2
	if len(nameData) < nameEnd {
		return "", ErrMalformedResource
	}
	return internal.ReadUnicode(nameData[2:nameEnd], 0), nil
}

func (p *resourceParser) parseDirectory(offset, depth int) (*ResourceDirectory, error) {
	if depth > maxResourceDepth {
		return nil, ErrMalformedResource
	}
	if _, seen := p.visited[offset]; seen {
		return nil, ErrMalformedResource
	}
	p.visited[offset] = struct{}{}

	if offset < 0 || len(p.global) < offset+sizeOfResourceDirectory {
		return nil, ErrMalformedResource
	}
	base := p.global[offset:]
	namedEntries := binary.LittleEndian.Uint16(base[12:14])
	idEntries := binary.LittleEndian.Uint16(base[14:16])
	numEntries := int(namedEntries) + int(idEntries)
	entriesData := base[sizeOfResourceDirectory:]
	if len(entriesData) < numEntries*sizeOfResourceDirectoryEntry {
		return nil, ErrMalformedResource
	}

	directory := &ResourceDirectory{
		Characteristics: binary.LittleEndian.Uint32(base[0:4]),
		TimeDateStamp:   binary.LittleEndian.Uint32(base[4:8]),
		MajorVersion:    binary.LittleEndian.Uint16(base[8:10]),
		MinorVersion:    binary.LittleEndian.Uint16(base[10:12]),
		Entries:         make([]*ResourceEntry, 0, numEntries),
	}
	for i := 0; i < numEntries; i++ {
		entryData := entriesData[sizeOfResourceDirectoryEntry*i:]
		directory.Entries = append(directory.Entries, p.parseEntry(entryData, depth))
	}
	return directory, nil
}

func (p *resourceParser) parseEntry(base []byte, depth int) *ResourceEntry {
	entry := &ResourceEntry{}
	id := binary.LittleEndian.Uint32(base[0:4])
	if hasHighBit(id) {
		entry.Named = true
		// an unreadable name still leaves a usable entry
		if name, err := p.parseName(id); err == nil {
			entry.Name = name
		}
	} else {
		entry.ID = id
	}

	offset := binary.LittleEndian.Uint32(base[4:8])
	if hasHighBit(offset) {
		// we have a nested directory
		directory, err := p.parseDirectory(lowBits(offset), depth+1)
		if err == nil {
			entry.Directory = directory
		}
		return entry
	}

	// we have a leaf resource
	data, err := followOffset(p.global, offset, sizeOfResourceDataEntry)
	if err != nil {
		return entry
	}
	entry.Data = &ResourceDataEntry{
		OffsetToData: binary.LittleEndian.Uint32(data[0:4]),
		Size:         binary.LittleEndian.Uint32(data[4:8]),
		CodePage:     binary.LittleEndian.Uint32(data[8:12]),
	}
	return entry
}

// Resources flattens the resource tree into its leaves. A leaf's type is
// taken from the first table on its path, its id from the second and its
// language from the third. A leaf found directly at the second level has a
// neutral language. Leaves whose data can't be mapped are left out.
func (f *File) Resources() []Resource {
	resources := []Resource{}
	for _, typeEntry := range f.resources.Entries {
		if typeEntry.Directory == nil {
			continue
		}
		typeName := TypeName(typeEntry.ID)
		if typeEntry.Named {
			typeName = typeEntry.Name
		}
		for _, nameEntry := range typeEntry.Directory.Entries {
			if nameEntry.Directory == nil {
				if resource, ok := f.resource(typeName, nameEntry.ID, 0, nameEntry.Data); ok {
					resources = append(resources, resource)
				}
				continue
			}
			for _, languageEntry := range nameEntry.Directory.Entries {
				if resource, ok := f.resource(typeName, nameEntry.ID, uint16(languageEntry.ID), languageEntry.Data); ok {
					resources = append(resources, resource)
				}
			}
		}
	}
	return resources
}

func (f *File) resource(typeName string, id uint32, language uint16, entry *ResourceDataEntry) (Resource, bool) {
	if entry == nil {
		return Resource{}, false
	}
	data, err := f.ReadRVA(entry.OffsetToData, entry.Size)
	if err != nil {
		return Resource{}, false
	}
	hash := sha256.Sum256(data)
	resourceMime := "Data"
	if kind, err := filetype.Match(data); err == nil && kind.MIME.Value != "" {
		resourceMime = kind.MIME.Value
	}
	return Resource{
		Type:     typeName,
		ID:       id,
		Language: languageName(language),
		Size:     len(data),
		SHA256:   hex.EncodeToString(hash[:]),
		MIME:     resourceMime,
		data:     data,
	}, true
}
