// Package protocol implements the byte-level framing used on the Nordic
// UART Service: splitting outbound writes to the ATT payload size and
// reassembling inbound notifications into lines.
package protocol

import "unicode/utf8"

// DefaultMTUPayload is the usable bytes per write with the default
// 23-byte ATT MTU (23 minus 3 bytes of ATT header).
const DefaultMTUPayload = 20

// Chunk splits p into pieces of at most maxBytes, never splitting a UTF-8
// sequence. Returns nil for empty input or maxBytes <= 0.
func Chunk(p []byte, maxBytes int) [][]byte {
	if len(p) == 0 || maxBytes <= 0 {
		return nil
	}
	if len(p) <= maxBytes {
		return [][]byte{p}
	}

	var chunks [][]byte
	for len(p) > 0 {
		if len(p) <= maxBytes {
			chunks = append(chunks, p)
			break
		}

		// Walk back until we're at the start of a rune.
		split := maxBytes
		for split > 0 && !utf8.RuneStart(p[split]) {
			split--
		}
		if split == 0 {
			// A single rune wider than maxBytes: emit it whole to make progress.
			_, size := utf8.DecodeRune(p)
			split = size
		}
		chunks = append(chunks, p[:split])
		p = p[split:]
	}
	return chunks
}
