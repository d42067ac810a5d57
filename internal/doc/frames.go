package doc

// Frame wraps a single payload with its length prefix.
func Frame(payload []byte) []byte {
	return MergeFrames([][]byte{payload})
}

// MergeFrames concatenates payloads into one blob, each prefixed with a
// big-endian uint32 length.
func MergeFrames(frames [][]byte) []byte {
	totalSize := 0
	for _, frame := range frames {
		totalSize += len(frame)
	}

	merged := make([]byte, 0, totalSize+len(frames)*4)

	for _, frame := range frames {
		length := uint32(len(frame))
		merged = append(merged, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
		merged = append(merged, frame...)
	}

	return merged
}

// SplitFrames decodes a merged blob back into individual payloads.
// A truncated trailing frame is dropped rather than treated as an error.
func SplitFrames(merged []byte) [][]byte {
	var frames [][]byte
	offset := 0

	for offset < len(merged) {
		if offset+4 > len(merged) {
			break
		}

		length := uint32(merged[offset])<<24 |
			uint32(merged[offset+1])<<16 |
			uint32(merged[offset+2])<<8 |
			uint32(merged[offset+3])
		offset += 4

		if offset+int(length) > len(merged) {
			break
		}

		frame := make([]byte, length)
		copy(frame, merged[offset:offset+int(length)])
		frames = append(frames, frame)
		offset += int(length)
	}

	return frames
}
