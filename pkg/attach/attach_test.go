package attach

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageEncodesContent(t *testing.T) {
	content := []byte("fake jpeg bytes")
	staged, err := Stage("carta.jpg", MimeJPEG, content)
	require.NoError(t, err)

	assert.Equal(t, "carta.jpg", staged.FileName)
	assert.Equal(t, MimeJPEG, staged.MimeType)

	decoded, err := base64.StdEncoding.DecodeString(staged.Data)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestStageRejectsUnsupportedType(t *testing.T) {
	_, err := Stage("virus.exe", "application/octet-stream", []byte("x"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Stage("animated.gif", "image/gif", []byte("x"))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestStageSizeLimits(t *testing.T) {
	overImage := make([]byte, MaxImageBytes+1)
	_, err := Stage("big.png", MimePNG, overImage)
	require.ErrorIs(t, err, ErrTooLarge)

	// The same size is fine for a PDF, whose ceiling is higher.
	_, err = Stage("big.pdf", MimePDF, overImage)
	require.NoError(t, err)

	overPDF := make([]byte, MaxPDFBytes+1)
	_, err = Stage("huge.pdf", MimePDF, overPDF)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "AAAA", StripDataURLPrefix("data:image/png;base64,AAAA"))
	assert.Equal(t, "AAAA", StripDataURLPrefix("AAAA"))

	// Idempotent on already-stripped input.
	stripped := StripDataURLPrefix("data:application/pdf;base64,QkJC")
	assert.Equal(t, stripped, StripDataURLPrefix(stripped))

	// A data: prefix without the base64 marker passes through untouched.
	assert.Equal(t, "data:text/plain,hello", StripDataURLPrefix("data:text/plain,hello"))
}

func TestDataURLRoundTrip(t *testing.T) {
	staged, err := Stage("doc.pdf", MimePDF, []byte("pdf"))
	require.NoError(t, err)

	url := staged.DataURL()
	assert.True(t, strings.HasPrefix(url, "data:application/pdf;base64,"))
	assert.Equal(t, staged.Data, StripDataURLPrefix(url))
}

func TestFieldValueRoundTrip(t *testing.T) {
	staged, err := Stage("carta.jpg", MimeJPEG, []byte("front side"))
	require.NoError(t, err)

	restored, ok := FromFieldValue(staged.FieldValue())
	require.True(t, ok)
	assert.Equal(t, staged, restored)
}

func TestFromFieldValueRejectsOtherShapes(t *testing.T) {
	_, ok := FromFieldValue("just a string")
	assert.False(t, ok)

	_, ok = FromFieldValue(nil)
	assert.False(t, ok)

	_, ok = FromFieldValue(map[string]any{"fileName": "x.jpg"})
	assert.False(t, ok, "a staged file without payload is not restorable")
}
