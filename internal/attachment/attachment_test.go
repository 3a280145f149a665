package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mime     string
		want     Kind
	}{
		{"text by extension", "notes.txt", "", Text},
		{"markdown by extension", "README.MD", "application/octet-stream", Text},
		{"text by mime", "body", "text/plain; charset=utf-8", Text},
		{"html by extension", "page.htm", "", HTML},
		{"html by mime", "", "text/html", HTML},
		{"pdf by extension", "scan.pdf", "application/octet-stream", PDF},
		{"pdf by mime", "download", "application/pdf", PDF},
		{"image extension wins over octet-stream", "photo.png", "application/octet-stream", Image},
		{"image by mime", "IMG_0001", "image/jpeg", Image},
		{"gif", "anim.gif", "", Image},
		{"unknown binary", "data.bin", "", Other},
		{"empty input", "", "", Other},
		{"unknown image type", "pic.webp", "image/webp", Other},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.filename, tc.mime))
		})
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// Text is checked before PDF, so a text extension beats a PDF mime type.
	assert.Equal(t, Text, Classify("notes.txt", "application/pdf"))
	// HTML mime beats a PDF extension because HTML is checked first.
	assert.Equal(t, HTML, Classify("report.pdf", "text/html"))
}

func TestClassifyDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, Image, Classify("photo.png", "application/octet-stream"))
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pdf", PDF.String())
	assert.Equal(t, "other", Kind(42).String())
}

func TestTypeByFilename(t *testing.T) {
	assert.Equal(t, "application/pdf", TypeByFilename("a.pdf"))
	assert.Equal(t, "text/markdown", TypeByFilename("a.md"))
	assert.Equal(t, "application/octet-stream", TypeByFilename("a.unknownext"))
}
