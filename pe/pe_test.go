package pe

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewstucki/icontools/internal/pebuild"
)

var (
	red  = color.NRGBA{R: 0xff, A: 0xff}
	blue = color.NRGBA{B: 0xff, A: 0xff}
)

func openImage(t *testing.T, resources ...pebuild.Resource) *File {
	t.Helper()
	f, err := Open(bytes.NewReader(pebuild.Build(resources)))
	require.NoError(t, err)
	return f
}

func iconResource(id uint32, data []byte) pebuild.Resource {
	return pebuild.Resource{Type: RTIcon, ID: id, Data: data}
}

func groupResource(id uint32, data []byte) pebuild.Resource {
	return pebuild.Resource{Type: RTGroupIcon, ID: id, Data: data}
}

func pngEntry(id uint16, size int, data []byte) pebuild.GroupIconEntry {
	return pebuild.GroupIconEntry{
		Width:      uint8(size),
		Height:     uint8(size),
		Planes:     1,
		BitCount:   32,
		BytesInRes: uint32(len(data)),
		ID:         id,
	}
}

func TestOpen(t *testing.T) {
	t.Run("not a pe", func(t *testing.T) {
		_, err := Open(bytes.NewReader([]byte("definitely not an executable")))
		require.Error(t, err)
	})

	t.Run("resource tree", func(t *testing.T) {
		icon := pebuild.PNG(16, 16, red)
		f := openImage(t,
			iconResource(1, icon),
			groupResource(101, pebuild.GroupIcon(0, 1, 1, pngEntry(1, 16, icon))),
			pebuild.Resource{Type: RTManifest, ID: 1, Language: 0x0407, Data: []byte("<assembly/>")},
		)

		root := f.ResourceRoot()
		require.Len(t, root.Entries, 3)
		require.Equal(t, RTIcon, root.Entries[0].ID)
		require.True(t, root.Entries[0].IsDirectory())
		require.Equal(t, RTGroupIcon, root.Entries[1].ID)
		require.Equal(t, RTManifest, root.Entries[2].ID)

		info := f.Info()
		require.Equal(t, "x32", info.Header.TargetMachine)
		require.Equal(t, 1, info.Header.ContainedSections)
		require.Equal(t, int64(1500000000), info.Header.CompilationTimestamp.Unix())
		require.Equal(t, map[string]int{
			"RT_ICON":       1,
			"RT_GROUP_ICON": 1,
			"RT_MANIFEST":   1,
		}, info.ContainedResourcesByType)
		require.Equal(t, map[string]int{
			"LANG_ENGLISH": 2,
			"LANG_GERMAN":  1,
		}, info.ContainedResourcesByLanguage)

		require.Len(t, info.Resources, 3)
		require.Equal(t, "image/png", info.Resources[0].MIME)
		require.Equal(t, icon, info.Resources[0].Data())
		require.Equal(t, uint32(101), info.Resources[1].ID)
		require.Equal(t, "RT_GROUP_ICON", info.Resources[1].Type)
		require.Equal(t, len("<assembly/>"), info.Resources[2].Size)
	})

	t.Run("no resources", func(t *testing.T) {
		f := openImage(t)
		require.Empty(t, f.ResourceRoot().Entries)
		require.Empty(t, f.Resources())
	})
}

func TestRVAMapping(t *testing.T) {
	f := openImage(t, iconResource(1, []byte{1, 2, 3, 4}))

	offset, err := f.OffsetFromRVA(0x1000)
	require.NoError(t, err)
	require.Equal(t, int64(0x200), offset)

	_, err = f.OffsetFromRVA(0x9000)
	require.ErrorIs(t, err, ErrMalformedResource)

	data, err := f.ReadRVA(0x1000, 16)
	require.NoError(t, err)
	require.Len(t, data, 16)

	_, err = f.ReadRVA(0x1000, 0x10000)
	require.ErrorIs(t, err, ErrMalformedResource)
}

func TestImports(t *testing.T) {
	t.Run("named and ordinal", func(t *testing.T) {
		data := pebuild.BuildWithImports(nil, []pebuild.Import{
			{Library: "KERNEL32.dll", Functions: []string{"CreateFileA", "ExitProcess"}},
			{Library: "WS2_32.dll", Ordinals: []uint16{23}},
			{Library: "comctl32.ocx", Functions: []string{"InitCommonControls"}, Ordinals: []uint16{17}},
		})
		f, err := Open(bytes.NewReader(data))
		require.NoError(t, err)

		symbols, hash := f.Imports()
		require.Equal(t, map[string][]string{
			"KERNEL32.dll": {"CreateFileA", "ExitProcess"},
			"comctl32.ocx": {"InitCommonControls"},
		}, symbols)
		expected := md5.Sum([]byte("kernel32.createfilea,kernel32.exitprocess,ws2_32.ord23,comctl32.initcommoncontrols,comctl32.ord17"))
		require.Equal(t, hex.EncodeToString(expected[:]), hash)

		info := f.Info()
		require.Equal(t, 2, info.Header.ContainedSections)
		require.Equal(t, hash, info.Imphash)
		require.Empty(t, info.Resources)
	})

	t.Run("no imports", func(t *testing.T) {
		symbols, hash := openImage(t).Imports()
		require.Empty(t, symbols)
		require.Equal(t, emptyHash, hash)
	})
}

func TestNormalizeLibraryName(t *testing.T) {
	require.Equal(t, "kernel32", normalizeLibraryName("KERNEL32.DLL"))
	require.Equal(t, "driver", normalizeLibraryName("driver.sys"))
	require.Equal(t, "msvbvm60.exe", normalizeLibraryName("MSVBVM60.exe"))
}

func TestGroupIcons(t *testing.T) {
	first := pebuild.PNG(16, 16, red)
	second := pebuild.PNG(32, 32, blue)
	entries := []pebuild.GroupIconEntry{pngEntry(1, 16, first), pngEntry(2, 32, second)}

	for name, tc := range map[string]struct {
		group  []byte
		groups int
	}{
		"valid":          {group: pebuild.GroupIcon(0, 1, 2, entries...), groups: 1},
		"cursor type":    {group: pebuild.GroupIcon(0, 2, 2, entries...), groups: 0},
		"reserved set":   {group: pebuild.GroupIcon(1, 1, 2, entries...), groups: 0},
		"truncated":      {group: pebuild.GroupIcon(0, 1, 3, entries...), groups: 0},
		"short header":   {group: []byte{0, 0, 1}, groups: 0},
		"empty group":    {group: pebuild.GroupIcon(0, 1, 0), groups: 1},
		"trailing bytes": {group: append(pebuild.GroupIcon(0, 1, 1, entries...), 0xff, 0xff), groups: 1},
	} {
		t.Run(name, func(t *testing.T) {
			f := openImage(t,
				iconResource(1, first),
				iconResource(2, second),
				groupResource(1, tc.group),
			)
			groups := NewExtractor(f).GroupIcons()
			require.Len(t, groups, tc.groups)
			if name == "valid" {
				require.Len(t, groups[0], 2)
				require.Equal(t, GroupIconDirectoryEntry{
					Width:      16,
					Height:     16,
					Planes:     1,
					BitCount:   32,
					BytesInRes: uint32(len(first)),
					ID:         1,
				}, groups[0][0])
				require.Equal(t, uint16(2), groups[0][1].ID)
				require.Equal(t, uint8(32), groups[0][1].Width)
			}
		})
	}

	t.Run("bad groups are skipped", func(t *testing.T) {
		f := openImage(t,
			iconResource(1, first),
			groupResource(1, pebuild.GroupIcon(0, 2, 1, entries[0])),
			groupResource(2, pebuild.GroupIcon(0, 1, 1, entries[0])),
			groupResource(3, pebuild.GroupIcon(0, 1, 2, entries...)),
		)
		groups := NewExtractor(f).GroupIcons()
		require.Len(t, groups, 2)
		require.Len(t, groups[0], 1)
		require.Len(t, groups[1], 2)

		_, err := NewExtractor(f).GroupIcon(0)
		require.ErrorIs(t, err, ErrMalformedResource)
		_, err = NewExtractor(f).GroupIcon(3)
		require.ErrorIs(t, err, ErrResourceNotFound)
	})

	t.Run("no group icons", func(t *testing.T) {
		f := openImage(t, iconResource(1, first))
		groups := NewExtractor(f).GroupIcons()
		require.NotNil(t, groups)
		require.Empty(t, groups)
	})
}

func TestFindResource(t *testing.T) {
	f := openImage(t,
		iconResource(10, []byte("ten")),
		iconResource(20, []byte("twenty")),
		iconResource(30, []byte("thirty")),
		pebuild.Resource{Type: RTBitmap, ID: 1, Data: []byte("flat"), Flat: true},
		pebuild.Resource{Type: RTBitmap, ID: 2, Data: []byte("nested"), Nested: true},
	)
	extractor := NewExtractor(f)

	read := func(entry *ResourceEntry) string {
		data, err := f.ReadRVA(entry.Data.OffsetToData, entry.Data.Size)
		require.NoError(t, err)
		return string(data)
	}

	for name, tc := range map[string]struct {
		typ      uint32
		index    int
		expected string
		err      error
	}{
		"negative id":        {typ: RTIcon, index: -20, expected: "twenty"},
		"missing id":         {typ: RTIcon, index: -99, err: ErrResourceNotFound},
		"ordinal":            {typ: RTIcon, index: 0, expected: "ten"},
		"last ordinal":       {typ: RTIcon, index: 2, expected: "thirty"},
		"ordinal overflow":   {typ: RTIcon, index: 3, err: ErrResourceNotFound},
		"missing type":       {typ: RTGroupIcon, index: 0, err: ErrResourceNotFound},
		"flat leaf":          {typ: RTBitmap, index: -1, expected: "flat"},
		"too deep":           {typ: RTBitmap, index: -2, err: ErrResourceNotFound},
		"id out of range":    {typ: RTIcon, index: math.MinInt, err: ErrResourceNotFound},
		"ordinal is not id":  {typ: RTIcon, index: 10, err: ErrResourceNotFound},
		"second ordinal bmp": {typ: RTBitmap, index: 1, err: ErrResourceNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			entry, err := extractor.FindResource(tc.typ, tc.index)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Nil(t, entry)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, read(entry))
		})
	}

	base, err := extractor.FindResourceBase(RTIcon)
	require.NoError(t, err)
	require.Len(t, base.Directory.Entries, 3)
}

func TestIcon(t *testing.T) {
	payload := []byte("0123456789")
	f := openImage(t,
		iconResource(1, payload),
		pebuild.Resource{Type: RTIcon, ID: 2, Data: payload, Size: 4},
		pebuild.Resource{Type: RTIcon, ID: 3, Data: payload, Size: 0x100000},
	)
	extractor := NewExtractor(f)

	data, err := extractor.Icon(1)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	data, err = extractor.Icon(2)
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), data)

	_, err = extractor.Icon(3)
	require.ErrorIs(t, err, ErrMalformedResource)

	_, err = extractor.Icon(4)
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func readIconDirectoryEntry(raw []byte, i int) IconDirectoryEntry {
	data := raw[SizeOfGroupIconDirectory+SizeOfIconDirectoryEntry*i:]
	return IconDirectoryEntry{
		Width:       data[0],
		Height:      data[1],
		ColorCount:  data[2],
		Reserved:    data[3],
		Planes:      binary.LittleEndian.Uint16(data[4:6]),
		BitCount:    binary.LittleEndian.Uint16(data[6:8]),
		BytesInRes:  binary.LittleEndian.Uint32(data[8:12]),
		ImageOffset: binary.LittleEndian.Uint32(data[12:16]),
	}
}

func TestExportRaw(t *testing.T) {
	first := pebuild.PNG(16, 16, red)
	second := pebuild.DIB(32, 32)
	entries := []pebuild.GroupIconEntry{
		pngEntry(1, 16, first),
		{Width: 32, Height: 32, Planes: 1, BitCount: 32, BytesInRes: uint32(len(second)), ID: 2},
	}
	f := openImage(t,
		iconResource(1, first),
		iconResource(2, second),
		groupResource(1, pebuild.GroupIcon(0, 1, 2, entries...)),
	)
	extractor := NewExtractor(f)
	groups := extractor.GroupIcons()
	require.Len(t, groups, 1)
	group := groups[0]

	t.Run("single entry", func(t *testing.T) {
		raw := extractor.ExportRaw(group, 0)
		require.Len(t, raw, SizeOfGroupIconDirectory+SizeOfIconDirectoryEntry+len(first))
		require.Equal(t, []byte{0, 0, 1, 0, 1, 0}, raw[:6])

		entry := readIconDirectoryEntry(raw, 0)
		require.Equal(t, uint32(SizeOfGroupIconDirectory+SizeOfIconDirectoryEntry), entry.ImageOffset)
		require.Equal(t, uint32(len(first)), entry.BytesInRes)
		require.Equal(t, uint8(16), entry.Width)
		require.Equal(t, first, raw[entry.ImageOffset:])
	})

	t.Run("all entries", func(t *testing.T) {
		raw := extractor.ExportRaw(group, AllEntries)
		headerSize := SizeOfGroupIconDirectory + 2*SizeOfIconDirectoryEntry
		require.Len(t, raw, headerSize+len(first)+len(second))
		require.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[4:6]))

		firstEntry := readIconDirectoryEntry(raw, 0)
		secondEntry := readIconDirectoryEntry(raw, 1)
		require.Equal(t, uint32(headerSize), firstEntry.ImageOffset)
		require.Equal(t, uint32(headerSize+len(first)), secondEntry.ImageOffset)
		require.Equal(t, second, raw[secondEntry.ImageOffset:])
	})

	t.Run("second entry alone", func(t *testing.T) {
		raw := extractor.ExportRaw(group, 1)
		entry := readIconDirectoryEntry(raw, 0)
		require.Equal(t, uint32(SizeOfGroupIconDirectory+SizeOfIconDirectoryEntry), entry.ImageOffset)
		require.Equal(t, uint8(32), entry.Width)
		require.Equal(t, second, raw[entry.ImageOffset:])
	})

	t.Run("index out of range", func(t *testing.T) {
		raw := extractor.ExportRaw(group, 5)
		require.Equal(t, []byte{0, 0, 1, 0, 0, 0}, raw)
	})

	t.Run("unresolvable entries are dropped", func(t *testing.T) {
		withMissing := []GroupIconDirectoryEntry{group[0], {Width: 48, Height: 48, ID: 99}, group[1]}
		raw := extractor.ExportRaw(withMissing, AllEntries)
		headerSize := SizeOfGroupIconDirectory + 2*SizeOfIconDirectoryEntry
		require.Len(t, raw, headerSize+len(first)+len(second))
		require.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[4:6]))
		require.Equal(t, uint32(headerSize+len(first)), readIconDirectoryEntry(raw, 1).ImageOffset)
		require.Equal(t, uint8(32), readIconDirectoryEntry(raw, 1).Width)
	})

	t.Run("declared size is corrected", func(t *testing.T) {
		wrong := group[0]
		wrong.BytesInRes = 1
		raw := extractor.ExportRaw([]GroupIconDirectoryEntry{wrong}, AllEntries)
		require.Equal(t, uint32(len(first)), readIconDirectoryEntry(raw, 0).BytesInRes)
	})
}

func TestResolve(t *testing.T) {
	first := pebuild.PNG(16, 16, red)
	second := pebuild.PNG(24, 24, blue)
	f := openImage(t,
		iconResource(1, first),
		iconResource(2, second),
		groupResource(1, pebuild.GroupIcon(0, 1, 2, pngEntry(1, 16, first), pngEntry(2, 24, second))),
	)
	extractor := NewExtractor(f)
	group := extractor.GroupIcons()[0]
	withMissing := []GroupIconDirectoryEntry{group[0], {Width: 48, Height: 48, ID: 99}, group[1]}

	for name, tc := range map[string]struct {
		entries []GroupIconDirectoryEntry
		index   int
		ids     []uint16
	}{
		"all entries":        {entries: group, index: AllEntries, ids: []uint16{1, 2}},
		"single entry":       {entries: group, index: 1, ids: []uint16{2}},
		"missing dropped":    {entries: withMissing, index: AllEntries, ids: []uint16{1, 2}},
		"missing selected":   {entries: withMissing, index: 1, ids: []uint16{}},
		"index out of range": {entries: group, index: 5, ids: []uint16{}},
	} {
		t.Run(name, func(t *testing.T) {
			images := extractor.Resolve(tc.entries, tc.index)
			ids := []uint16{}
			for _, image := range images {
				ids = append(ids, image.Entry.ID)
				data, err := extractor.Icon(image.Entry.ID)
				require.NoError(t, err)
				require.Equal(t, data, image.Data)
			}
			require.Equal(t, tc.ids, ids)
			require.Equal(t, extractor.ExportRaw(tc.entries, tc.index), AssembleICO(images))
		})
	}

	require.Equal(t, []byte{0, 0, 1, 0, 0, 0}, AssembleICO(nil))
}

func TestExport(t *testing.T) {
	small := pebuild.PNG(16, 16, red)
	large := pebuild.PNG(32, 32, blue)
	f := openImage(t,
		iconResource(1, small),
		iconResource(2, large),
		groupResource(1, pebuild.GroupIcon(0, 1, 2, pngEntry(1, 16, small), pngEntry(2, 32, large))),
	)
	extractor := NewExtractor(f)
	group := extractor.GroupIcons()[0]

	img, err := extractor.Export(group, 0)
	require.NoError(t, err)
	require.Equal(t, 16, img.Bounds().Dx())
	require.Equal(t, 16, img.Bounds().Dy())
	r, g, b, a := img.At(3, 3).RGBA()
	require.Equal(t, [4]uint32{0xffff, 0, 0, 0xffff}, [4]uint32{r, g, b, a})

	img, err = extractor.Export(group, 1)
	require.NoError(t, err)
	require.Equal(t, 32, img.Bounds().Dx())

	_, err = extractor.Export([]GroupIconDirectoryEntry{{ID: 42}}, AllEntries)
	require.ErrorIs(t, err, ErrResourceNotFound)

	_, err = DecodeIcon([]byte{0, 0, 1, 0, 1, 0, 0xff})
	require.Error(t, err)
}
