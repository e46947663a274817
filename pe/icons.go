package pe

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"

	"github.com/go-errors/errors"
	ico "github.com/sergeymakinen/go-ico"
)

const (
	SizeOfGroupIconDirectory      = 6
	SizeOfGroupIconDirectoryEntry = 14
	SizeOfIconDirectoryEntry      = 16
)

// Image types stored in the Type field of a (group) icon directory.
const (
	ResourceIcon   uint16 = 1
	ResourceCursor uint16 = 2
)

// AllEntries selects every entry of a group when exporting.
const AllEntries = -1

// GroupIconDirectory is the data structure pointed to by RT_GROUP_ICON
// resource data entries. It is followed by Count instances of
// GroupIconDirectoryEntry.
type GroupIconDirectory struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

// GroupIconDirectoryEntry describes one image of an icon group. ID is the
// RT_ICON resource id holding the image.
type GroupIconDirectoryEntry struct {
	Width      uint8 // 0 if >=256
	Height     uint8 // 0 if >=256
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16
}

// IconDirectoryEntry is the on-disk .ico form of a GroupIconDirectoryEntry,
// with the resource id replaced by an absolute file offset.
type IconDirectoryEntry struct {
	Width       uint8
	Height      uint8
	ColorCount  uint8
	Reserved    uint8
	Planes      uint16
	BitCount    uint16
	BytesInRes  uint32
	ImageOffset uint32
}

func decodeGroupIconDirectory(data []byte) (GroupIconDirectory, error) {
	if len(data) < SizeOfGroupIconDirectory {
		return GroupIconDirectory{}, ErrMalformedResource
	}
	return GroupIconDirectory{
		Reserved: binary.LittleEndian.Uint16(data[0:2]),
		Type:     binary.LittleEndian.Uint16(data[2:4]),
		Count:    binary.LittleEndian.Uint16(data[4:6]),
	}, nil
}

func decodeGroupIconDirectoryEntry(data []byte) (GroupIconDirectoryEntry, error) {
	if len(data) < SizeOfGroupIconDirectoryEntry {
		return GroupIconDirectoryEntry{}, ErrMalformedResource
	}
	return GroupIconDirectoryEntry{
		Width:      data[0],
		Height:     data[1],
		ColorCount: data[2],
		Reserved:   data[3],
		Planes:     binary.LittleEndian.Uint16(data[4:6]),
		BitCount:   binary.LittleEndian.Uint16(data[6:8]),
		BytesInRes: binary.LittleEndian.Uint32(data[8:12]),
		ID:         binary.LittleEndian.Uint16(data[12:14]),
	}, nil
}

func (e GroupIconDirectoryEntry) iconDirectoryEntry(size, offset uint32) IconDirectoryEntry {
	return IconDirectoryEntry{
		Width:       e.Width,
		Height:      e.Height,
		ColorCount:  e.ColorCount,
		Reserved:    e.Reserved,
		Planes:      e.Planes,
		BitCount:    e.BitCount,
		BytesInRes:  size,
		ImageOffset: offset,
	}
}

func (e IconDirectoryEntry) put(data []byte) {
	data[0] = e.Width
	data[1] = e.Height
	data[2] = e.ColorCount
	data[3] = e.Reserved
	binary.LittleEndian.PutUint16(data[4:6], e.Planes)
	binary.LittleEndian.PutUint16(data[6:8], e.BitCount)
	binary.LittleEndian.PutUint32(data[8:12], e.BytesInRes)
	binary.LittleEndian.PutUint32(data[12:16], e.ImageOffset)
}

// Extractor pulls icon groups out of the resource tree of a File and
// rebuilds them as .ico images. Lookups are best effort: a sample missing
// some resource yields ErrResourceNotFound or an empty result.
type Extractor struct {
	file *File
}

// NewExtractor returns an Extractor reading from f.
func NewExtractor(f *File) *Extractor {
	return &Extractor{file: f}
}

// FindResourceBase returns the top level entry for the resource type id.
func (e *Extractor) FindResourceBase(typ uint32) (*ResourceEntry, error) {
	for _, entry := range e.file.resources.Entries {
		if !entry.Named && entry.ID == typ {
			return entry, nil
		}
	}
	return nil, ErrResourceNotFound
}

// FindResource resolves a leaf of the typ subtree. A non-negative index is
// an ordinal position among the children; a negative index selects the
// child whose id is -index. Nested tables are descended through their first
// child only, so only the first language variant is ever returned.
func (e *Extractor) FindResource(typ uint32, index int) (*ResourceEntry, error) {
	if index < 0 {
		id := -int64(index)
		if id < 0 || id > math.MaxUint32 {
			return nil, ErrResourceNotFound
		}
		return e.lookup(typ, byID(uint32(id)))
	}
	return e.lookup(typ, byIndex(index))
}

func byIndex(index int) func(*ResourceDirectory) *ResourceEntry {
	return func(directory *ResourceDirectory) *ResourceEntry {
		if index >= len(directory.Entries) {
			return nil
		}
		return directory.Entries[index]
	}
}

func byID(id uint32) func(*ResourceDirectory) *ResourceEntry {
	return func(directory *ResourceDirectory) *ResourceEntry {
		for _, entry := range directory.Entries {
			if !entry.Named && entry.ID == id {
				return entry
			}
		}
		return nil
	}
}

func (e *Extractor) lookup(typ uint32, pick func(*ResourceDirectory) *ResourceEntry) (*ResourceEntry, error) {
	base, err := e.FindResourceBase(typ)
	if err != nil {
		return nil, err
	}
	if base.Directory == nil {
		return nil, ErrResourceNotFound
	}
	entry := pick(base.Directory)
	if entry == nil {
		return nil, ErrResourceNotFound
	}
	if entry.Directory != nil {
		if len(entry.Directory.Entries) == 0 {
			return nil, ErrResourceNotFound
		}
		entry = entry.Directory.Entries[0]
	}
	if entry.Directory != nil || entry.Data == nil {
		return nil, ErrResourceNotFound
	}
	return entry, nil
}

func (e *Extractor) readData(entry *ResourceEntry) ([]byte, error) {
	return e.file.ReadRVA(entry.Data.OffsetToData, entry.Data.Size)
}

// GroupIcon decodes the icon group at ordinal index of RT_GROUP_ICON.
// Groups whose header isn't a plain icon directory, or whose entries run
// past the resource data, return ErrMalformedResource.
func (e *Extractor) GroupIcon(index int) ([]GroupIconDirectoryEntry, error) {
	if index < 0 {
		return nil, ErrResourceNotFound
	}
	entry, err := e.FindResource(RTGroupIcon, index)
	if err != nil {
		return nil, err
	}
	data, err := e.readData(entry)
	if err != nil {
		return nil, err
	}

	header, err := decodeGroupIconDirectory(data)
	if err != nil {
		return nil, err
	}
	if header.Reserved != 0 || header.Type != ResourceIcon {
		return nil, ErrMalformedResource
	}

	offset := SizeOfGroupIconDirectory
	entries := make([]GroupIconDirectoryEntry, 0, header.Count)
	for i := 0; i < int(header.Count); i++ {
		groupEntry, err := decodeGroupIconDirectoryEntry(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += SizeOfGroupIconDirectoryEntry
		entries = append(entries, groupEntry)
	}
	return entries, nil
}

// GroupIcons returns every icon group that decodes cleanly, in resource
// order. Invalid groups are skipped.
func (e *Extractor) GroupIcons() [][]GroupIconDirectoryEntry {
	groups := [][]GroupIconDirectoryEntry{}
	base, err := e.FindResourceBase(RTGroupIcon)
	if err != nil || base.Directory == nil {
		return groups
	}
	for index := range base.Directory.Entries {
		entries, err := e.GroupIcon(index)
		if err != nil {
			continue
		}
		groups = append(groups, entries)
	}
	return groups
}

// Icon returns the raw image bytes of the RT_ICON resource with the given
// id, cut to the size declared by its data entry.
func (e *Extractor) Icon(id uint16) ([]byte, error) {
	entry, err := e.lookup(RTIcon, byID(uint32(id)))
	if err != nil {
		return nil, err
	}
	return e.readData(entry)
}

func selectEntries(entries []GroupIconDirectoryEntry, index int) []GroupIconDirectoryEntry {
	if index == AllEntries {
		return entries
	}
	if index < 0 || index >= len(entries) {
		return nil
	}
	return entries[index : index+1]
}

// IconImage is a group entry together with the RT_ICON data it points at.
type IconImage struct {
	Entry GroupIconDirectoryEntry
	Data  []byte
}

// Resolve reads the RT_ICON data of entries, or of entries[index] alone
// unless index is AllEntries. Entries whose data can't be resolved are left
// out.
func (e *Extractor) Resolve(entries []GroupIconDirectoryEntry, index int) []IconImage {
	selected := selectEntries(entries, index)
	images := make([]IconImage, 0, len(selected))
	for _, entry := range selected {
		if len(images) == math.MaxUint16 {
			break
		}
		data, err := e.Icon(entry.ID)
		if err != nil {
			continue
		}
		images = append(images, IconImage{Entry: entry, Data: data})
	}
	return images
}

// AssembleICO lays images out as an .ico file: the header, one 16 byte
// directory entry per image with its absolute offset, then the image data.
// BytesInRes always matches the data written.
func AssembleICO(images []IconImage) []byte {
	if len(images) > math.MaxUint16 {
		images = images[:math.MaxUint16]
	}
	size := SizeOfGroupIconDirectory + SizeOfIconDirectoryEntry*len(images)
	offset := uint32(size)
	for _, icon := range images {
		size += len(icon.Data)
	}

	raw := make([]byte, size)
	binary.LittleEndian.PutUint16(raw[0:2], 0)
	binary.LittleEndian.PutUint16(raw[2:4], ResourceIcon)
	binary.LittleEndian.PutUint16(raw[4:6], uint16(len(images)))

	position := SizeOfGroupIconDirectory
	for _, icon := range images {
		icon.Entry.iconDirectoryEntry(uint32(len(icon.Data)), offset).put(raw[position:])
		copy(raw[offset:], icon.Data)
		position += SizeOfIconDirectoryEntry
		offset += uint32(len(icon.Data))
	}
	return raw
}

// ExportRaw assembles an .ico image from the resolvable images among
// entries, or entries[index] alone unless index is AllEntries. The header
// count and every image offset describe exactly the images written.
func (e *Extractor) ExportRaw(entries []GroupIconDirectoryEntry, index int) []byte {
	return AssembleICO(e.Resolve(entries, index))
}

// Export assembles the .ico like ExportRaw and decodes it. An export that
// resolved no image at all returns ErrResourceNotFound.
func (e *Extractor) Export(entries []GroupIconDirectoryEntry, index int) (image.Image, error) {
	raw := e.ExportRaw(entries, index)
	if binary.LittleEndian.Uint16(raw[4:6]) == 0 {
		return nil, ErrResourceNotFound
	}
	return DecodeIcon(raw)
}

// DecodeIcon decodes an .ico image. Any decoder failure, including a panic
// on hostile data, is returned as an error.
func DecodeIcon(raw []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = errors.Errorf("decoding icon: %v", r)
		}
	}()

	img, err = ico.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.WrapPrefix(err, "decoding icon", 0)
	}
	return img, nil
}
