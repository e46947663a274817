package internal

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// ReadUnicode decodes a little-endian UTF-16 string starting at offset and
// stopping at the first NUL or the end of data.
func ReadUnicode(data []byte, offset int) string {
	encode := []uint16{}
	if offset < 0 {
		return ""
	}
	for {
		if len(data) < offset+2 {
			return string(utf16.Decode(encode))
		}
		value := binary.LittleEndian.Uint16(data[offset : offset+2])
		if value == 0 {
			return string(utf16.Decode(encode))
		}
		encode = append(encode, value)
		offset += 2
	}
}

// Entropy returns the Shannon entropy of data rounded to two decimals.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var cache [256]int
	for _, b := range data {
		cache[b]++
	}

	result := 0.0
	length := len(data)
	for _, count := range cache {
		if count == 0 {
			continue
		}
		frequency := float64(count) / float64(length)
		result -= frequency * math.Log2(frequency)
	}
	return math.Round(result*100) / 100
}
