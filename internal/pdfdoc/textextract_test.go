package pdfdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText_LiteralStringOperator(t *testing.T) {
	pdf := []byte("stream\n(Hello Form 990 World) Tj\nendstream")
	text := extractText(pdf)
	assert.Contains(t, text, "Hello Form 990 World")
}

func TestExtractText_ArrayShowOperator(t *testing.T) {
	pdf := []byte("stream\n[(Total) (revenue) (12345.)] TJ\nendstream")
	text := extractText(pdf)
	assert.Contains(t, text, "Totalrevenue12345.")
}

func TestExtractText_IgnoresNonStreamContent(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF")
	text := extractText(pdf)
	assert.Empty(t, text)
}

func TestInflateZlibStream_RejectsNonZlibData(t *testing.T) {
	_, ok := inflateZlibStream([]byte("(not a zlib stream) Tj"))
	assert.False(t, ok)
}
