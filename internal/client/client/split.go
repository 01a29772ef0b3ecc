package client

import "github.com/dmitrijs2005/openemail/internal/common"

// Range is a byte window of a file.
type Range struct {
	Offset int64
	Length int64
}

// SplitParts cuts size bytes into consecutive ranges of at most maxSize bytes.
// An empty file yields a single empty range.
func SplitParts(size, maxSize int64) []Range {
	if maxSize <= 0 {
		maxSize = common.MaxMessageSize
	}
	if size <= 0 {
		return []Range{{Offset: 0, Length: 0}}
	}
	parts := make([]Range, 0, (size+maxSize-1)/maxSize)
	for off := int64(0); off < size; off += maxSize {
		n := maxSize
		if size-off < n {
			n = size - off
		}
		parts = append(parts, Range{Offset: off, Length: n})
	}
	return parts
}
