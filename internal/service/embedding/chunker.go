package embedding

import "strings"

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Separators tried in order when splitting; paragraph breaks first, bare
// characters last.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// ChunkText splits a transcript into overlapping chunks, preferring to break
// at paragraph and sentence boundaries so each chunk embeds coherently.
func ChunkText(content string) []string {
	var chunks []string
	for _, piece := range splitRecursive(content, separators) {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			chunks = append(chunks, piece)
		}
	}
	return chunks
}

func splitRecursive(content string, seps []string) []string {
	if len(content) <= chunkSize {
		if content == "" {
			return nil
		}
		return []string{content}
	}

	sep := seps[len(seps)-1]
	rest := seps
	for i, s := range seps {
		if s == "" || strings.Contains(content, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		for len(content) > chunkSize {
			parts = append(parts, content[:chunkSize])
			content = content[chunkSize:]
		}
		if content != "" {
			parts = append(parts, content)
		}
	} else {
		for _, part := range strings.SplitAfter(content, sep) {
			if len(part) > chunkSize {
				parts = append(parts, splitRecursive(part, rest)...)
			} else if part != "" {
				parts = append(parts, part)
			}
		}
	}
	return mergeParts(parts)
}

// mergeParts greedily packs the split fragments into chunks near chunkSize,
// carrying chunkOverlap characters of trailing context into the next chunk.
func mergeParts(parts []string) []string {
	var chunks []string
	var current strings.Builder
	for _, part := range parts {
		if current.Len() > 0 && current.Len()+len(part) > chunkSize {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if overlap := tailOverlap(chunk); overlap != "" {
				current.WriteString(overlap)
			}
		}
		current.WriteString(part)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func tailOverlap(chunk string) string {
	if len(chunk) <= chunkOverlap {
		return chunk
	}
	tail := chunk[len(chunk)-chunkOverlap:]
	// Start the overlap at a word boundary when one exists.
	if i := strings.IndexByte(tail, ' '); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}
	return tail
}
