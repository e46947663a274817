package pe

import "strconv"

// primary language ids, the low 10 bits of a LANGID
var languageMap = map[uint16]string{
	0x00: "LANG_NEUTRAL",
	0x01: "LANG_ARABIC",
	0x02: "LANG_BULGARIAN",
	0x03: "LANG_CATALAN",
	0x04: "LANG_CHINESE",
	0x05: "LANG_CZECH",
	0x06: "LANG_DANISH",
	0x07: "LANG_GERMAN",
	0x08: "LANG_GREEK",
	0x09: "LANG_ENGLISH",
	0x0a: "LANG_SPANISH",
	0x0b: "LANG_FINNISH",
	0x0c: "LANG_FRENCH",
	0x0d: "LANG_HEBREW",
	0x0e: "LANG_HUNGARIAN",
	0x0f: "LANG_ICELANDIC",
	0x10: "LANG_ITALIAN",
	0x11: "LANG_JAPANESE",
	0x12: "LANG_KOREAN",
	0x13: "LANG_DUTCH",
	0x14: "LANG_NORWEGIAN",
	0x15: "LANG_POLISH",
	0x16: "LANG_PORTUGUESE",
	0x18: "LANG_ROMANIAN",
	0x19: "LANG_RUSSIAN",
	0x1a: "LANG_CROATIAN",
	0x1b: "LANG_SLOVAK",
	0x1c: "LANG_ALBANIAN",
	0x1d: "LANG_SWEDISH",
	0x1e: "LANG_THAI",
	0x1f: "LANG_TURKISH",
	0x20: "LANG_URDU",
	0x21: "LANG_INDONESIAN",
	0x22: "LANG_UKRAINIAN",
	0x23: "LANG_BELARUSIAN",
	0x24: "LANG_SLOVENIAN",
	0x25: "LANG_ESTONIAN",
	0x26: "LANG_LATVIAN",
	0x27: "LANG_LITHUANIAN",
	0x29: "LANG_FARSI",
	0x2a: "LANG_VIETNAMESE",
	0x2d: "LANG_BASQUE",
	0x39: "LANG_HINDI",
	0x3e: "LANG_MALAY",
	0x7f: "LANG_INVARIANT",
}

func languageName(id uint16) string {
	if found, ok := languageMap[id&0x3ff]; ok {
		return found
	}
	return strconv.Itoa(int(id))
}
