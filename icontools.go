package icontools

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"image"
	"io"
	"unicode/utf8"

	sha256 "github.com/minio/sha256-simd"

	"github.com/andrewstucki/icontools/internal"
	"github.com/andrewstucki/icontools/pe"
	"github.com/h2non/filetype"
)

// size for mime detection, office file
// detection requires ~8kb to detect properly
const headerSize = 8192

const peMIME = "application/vnd.microsoft.portable-executable"

var dosSignature = []byte("MZ")

var addedTypes = map[string]func([]byte) bool{
	"image/bmp": dibMatcher,
}

func init() {
	for mimeType, matcher := range addedTypes {
		filetype.AddMatcher(filetype.NewType(mimeType, mimeType), matcher)
	}
}

// icon images are either PNG streams or headerless DIBs, which start with
// the size of their BITMAPINFOHEADER variant followed by a single plane
func dibMatcher(buf []byte) bool {
	if len(buf) < 16 {
		return false
	}
	switch binary.LittleEndian.Uint32(buf[0:4]) {
	case 12:
		return binary.LittleEndian.Uint16(buf[8:10]) == 1
	case 40, 52, 56, 108, 124:
		return binary.LittleEndian.Uint16(buf[12:14]) == 1
	}
	return false
}

// Reader is the interface that must be satisfied for parsing a stream of data.
type Reader interface {
	io.ReadSeeker
	io.ReaderAt
}

// IconEntry describes one image of an icon group.
type IconEntry struct {
	ID         uint16  `json:"id"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	ColorCount int     `json:"colorCount"`
	BitCount   int     `json:"bitCount"`
	Size       int     `json:"size"`
	MIME       string  `json:"mime"`
	SHA256     string  `json:"sha256"`
	Entropy    float64 `json:"entropy"`
}

// IconGroup is one RT_GROUP_ICON resource rebuilt as an .ico image.
type IconGroup struct {
	Index   int         `json:"index"`
	Entries []IconEntry `json:"entries"`
	Size    int         `json:"size"`
	SHA256  string      `json:"sha256"`
	SSDEEP  string      `json:"ssdeep,omitempty"`

	ico []byte
}

// ICO returns the assembled .ico bytes of the group.
func (g IconGroup) ICO() []byte {
	return g.ico
}

// Image decodes the assembled .ico.
func (g IconGroup) Image() (image.Image, error) {
	return pe.DecodeIcon(g.ico)
}

// Info contains the fingerprint of a sample and the icons it carries.
type Info struct {
	MIME   string      `json:"mime"`
	MD5    string      `json:"md5"`
	SHA1   string      `json:"sha1"`
	SHA256 string      `json:"sha256"`
	Size   int         `json:"size"`
	PE     *pe.Info    `json:"pe,omitempty"`
	Icons  []IconGroup `json:"icons,omitempty"`
}

func mimeFallback(r Reader) (string, error) {
	chunk := make([]byte, 256)
	for {
		n, err := r.Read(chunk)
		if err != nil {
			if err == io.EOF {
				return "text/plain", nil
			}
			return "", err
		}
		buffer := chunk[:n]
		for len(buffer) > 0 {
			if r, size := utf8.DecodeRune(buffer); r != utf8.RuneError {
				buffer = buffer[size:]
				continue
			}
			return "application/octet-stream", nil
		}
	}
}

// Parse determines the file type for the data, hashes it, and for PE files
// extracts every icon group. A PE that fails to parse still yields the
// rest of the report.
func Parse(r Reader, size int) (*Info, error) {
	header := make([]byte, headerSize)
	n, err := r.Read(header)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// reset header read
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	kind, err := filetype.Match(header[:n])
	if err != nil {
		return nil, err
	}
	mime := kind.MIME.Value
	if mime == "" {
		fallback, err := mimeFallback(r)
		if err != nil {
			return nil, err
		}
		// reset mime read
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		mime = fallback
	}

	md5hash := md5.New()
	sha1hash := sha1.New()
	sha256hash := sha256.New()
	hasher := io.MultiWriter(md5hash, sha1hash, sha256hash)
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, err
	}

	info := &Info{
		MIME:   mime,
		Size:   size,
		MD5:    hex.EncodeToString(md5hash.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1hash.Sum(nil)),
		SHA256: hex.EncodeToString(sha256hash.Sum(nil)),
	}

	if mime == peMIME || bytes.HasPrefix(header[:n], dosSignature) {
		peFile, err := pe.Open(r)
		if err == nil {
			info.PE = peFile.Info()
			info.Icons = ExtractIcons(pe.NewExtractor(peFile))
		}
	}

	return info, nil
}

// ExtractIcons rebuilds every icon group the extractor can find. Images
// whose RT_ICON data is missing are left out of their group.
func ExtractIcons(extractor *pe.Extractor) []IconGroup {
	groups := []IconGroup{}
	for index, entries := range extractor.GroupIcons() {
		images := extractor.Resolve(entries, pe.AllEntries)
		group := IconGroup{
			Index:   index,
			Entries: make([]IconEntry, 0, len(images)),
			ico:     pe.AssembleICO(images),
		}
		for _, icon := range images {
			group.Entries = append(group.Entries, iconEntry(icon.Entry, icon.Data))
		}
		hash := sha256.Sum256(group.ico)
		group.SHA256 = hex.EncodeToString(hash[:])
		group.Size = len(group.ico)
		if group.Size >= minFileSize {
			if hash, err := ssdeep(group.ico); err == nil {
				group.SSDEEP = hash
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func iconEntry(entry pe.GroupIconDirectoryEntry, data []byte) IconEntry {
	hash := sha256.Sum256(data)
	return IconEntry{
		ID:         entry.ID,
		Width:      dimension(entry.Width),
		Height:     dimension(entry.Height),
		ColorCount: int(entry.ColorCount),
		BitCount:   int(entry.BitCount),
		Size:       len(data),
		MIME:       iconMIME(data),
		SHA256:     hex.EncodeToString(hash[:]),
		Entropy:    internal.Entropy(data),
	}
}

// a zero width or height in a directory entry means 256
func dimension(value uint8) int {
	if value == 0 {
		return 256
	}
	return int(value)
}

func iconMIME(data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	return "Data"
}
