package pdfdoc

import (
	"bytes"
	"compress/flate"
	"io"
	"regexp"
)

// maxDecompressedStreamSize bounds a single decompressed PDF content
// stream, guarding against a pathological or hostile file.
const maxDecompressedStreamSize = 8 * 1024 * 1024

var streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
var showTextRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
var showTextArrayRe = regexp.MustCompile(`\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
var arrayStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
var pdfEscapeRe = regexp.MustCompile(`\\(.)`)

// extractText pulls plain text out of a PDF's FlateDecode content
// streams. This is deliberately minimal: no object graph, no font
// encoding tables, no /Differences glyph remapping. It recovers
// literal-string text-showing operators (Tj, TJ) well enough to
// pattern-match the labeled numeric fields Form 990 filings print as
// plain ASCII, which is what extractFinancials and its siblings rely
// on. It does not attempt to read text drawn via glyph-ID-only
// encodings (Type0/CID fonts without a ToUnicode CMap).
func extractText(pdfBytes []byte) string {
	var out bytes.Buffer
	for _, m := range streamRe.FindAllSubmatch(pdfBytes, -1) {
		decoded, ok := inflateZlibStream(m[1])
		if !ok {
			// Some content streams are stored uncompressed; try the
			// raw bytes directly.
			decoded = m[1]
		}
		writeShowTextOperators(&out, decoded)
	}
	return out.String()
}

// inflateZlibStream decompresses a PDF /FlateDecode stream. PDF uses
// the zlib container (RFC 1950): a 2-byte header followed by a raw
// DEFLATE stream and a trailing Adler-32 checksum. compress/flate only
// understands the inner DEFLATE stream, so the zlib header is
// stripped by hand; the trailing checksum is left for flate.Reader to
// ignore once it hits the DEFLATE end-of-stream marker.
func inflateZlibStream(data []byte) ([]byte, bool) {
	data = bytes.TrimSpace(data)
	if len(data) < 3 {
		return nil, false
	}
	// A zlib header is a 2-byte CMF/FLG pair where CMF's low nibble
	// names the deflate compression method and the 16-bit value is a
	// multiple of 31 (RFC 1950's check bits). Content that doesn't
	// pass this is handled by the raw-text fallback instead.
	if data[0]&0x0f != 8 {
		return nil, false
	}
	if (uint16(data[0])<<8|uint16(data[1]))%31 != 0 {
		return nil, false
	}
	r := flate.NewReader(bytes.NewReader(data[2:]))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedStreamSize))
	if err != nil && len(out) == 0 {
		return nil, false
	}
	return out, true
}

func writeShowTextOperators(out *bytes.Buffer, content []byte) {
	for _, m := range showTextRe.FindAllSubmatch(content, -1) {
		out.Write(unescapePDFString(m[1]))
		out.WriteByte('\n')
	}
	for _, m := range showTextArrayRe.FindAllSubmatch(content, -1) {
		for _, s := range arrayStringRe.FindAllSubmatch(m[1], -1) {
			out.Write(unescapePDFString(s[1]))
		}
		out.WriteByte('\n')
	}
}

func unescapePDFString(s []byte) []byte {
	return pdfEscapeRe.ReplaceAll(s, []byte("$1"))
}
