package repo

import (
	"unicode/utf8"
)

const sniffLen = 8192

// IsBinary reports whether data looks like binary content: a NUL byte, fewer
// than 70% printable bytes, or invalid UTF-8 within the first 8 KiB.
func IsBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
		// don't fail UTF-8 validation on a rune cut by the sniff window
		for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	if len(data) == 0 {
		return false
	}

	printable := 0
	for _, b := range data {
		switch {
		case b == 0:
			return true
		case b >= 32 && b < 127, b == '\n', b == '\r', b == '\t', b == '\f', b == '\b':
			printable++
		case b >= 128:
			// multi-byte UTF-8 counts as text
			printable++
		}
	}
	if float64(printable)/float64(len(data)) < 0.7 {
		return true
	}
	return !utf8.Valid(data)
}
