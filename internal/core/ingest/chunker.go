package ingest

// DefaultChunkSize is the default number of runes per chunk.
const DefaultChunkSize = 800

// DefaultChunkOverlap is the default number of overlapping runes.
const DefaultChunkOverlap = 160

// Chunk splits refined text into overlapping fixed-size rune windows.
// The output is fully determined by (text, size, overlap), which is what
// makes delete-then-reinsert overwrite idempotent: re-chunking identical
// text yields identical chunks.
//
// Text shorter than one chunk yields a single chunk; empty text yields
// none. An overlap at or above the chunk size is clamped to size/4 so the
// window always advances.
func Chunk(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
