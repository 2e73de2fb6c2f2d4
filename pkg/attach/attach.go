// Package attach stages document uploads as base64 payloads inside the
// form state, so they inherit the same persistence lifecycle as every
// other field.
package attach

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Size ceilings, enforced before encoding.
const (
	MaxImageBytes = 5 << 20  // 5 MiB
	MaxPDFBytes   = 10 << 20 // 10 MiB
)

// Accepted upload MIME types.
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimePDF  = "application/pdf"
)

var (
	// ErrTooLarge indicates the file exceeds the ceiling for its type.
	ErrTooLarge = errors.New("attachment too large")
	// ErrUnsupportedType indicates a MIME type outside the accepted set.
	ErrUnsupportedType = errors.New("attachment type not supported")
)

// StagedFile is an attachment held in the form state pending submission.
// Data is base64 without a data-URL prefix. The JSON tags match the
// outbound submission envelope.
type StagedFile struct {
	Data     string `json:"data"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// Stage validates type and size, then encodes content for storage in the
// form state. Limits apply to the raw bytes, not the encoded form.
func Stage(fileName, mimeType string, content []byte) (StagedFile, error) {
	limit, ok := sizeLimit(mimeType)
	if !ok {
		return StagedFile{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if len(content) > limit {
		return StagedFile{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(content), limit)
	}

	return StagedFile{
		Data:     base64.StdEncoding.EncodeToString(content),
		FileName: fileName,
		MimeType: mimeType,
	}, nil
}

func sizeLimit(mimeType string) (int, bool) {
	switch mimeType {
	case MimeJPEG, MimePNG:
		return MaxImageBytes, true
	case MimePDF:
		return MaxPDFBytes, true
	default:
		return 0, false
	}
}

// StripDataURLPrefix removes a leading "data:<mime>;base64," prefix when
// present. Raw base64 input passes through unchanged, so the call is
// idempotent either way.
func StripDataURLPrefix(data string) string {
	if !strings.HasPrefix(data, "data:") {
		return data
	}
	idx := strings.Index(data, ";base64,")
	if idx < 0 {
		return data
	}
	return data[idx+len(";base64,"):]
}

// DataURL renders the staged file as a data URL for previews.
func (f StagedFile) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", f.MimeType, StripDataURLPrefix(f.Data))
}

// FieldValue converts the staged file into the generic map shape the form
// state holds for file fields.
func (f StagedFile) FieldValue() map[string]any {
	return map[string]any{
		"data":     f.Data,
		"fileName": f.FileName,
		"mimeType": f.MimeType,
	}
}

// FromFieldValue reconstructs a staged file from a form-state field value.
// Returns false when the value is not a staged-file map or has no payload.
func FromFieldValue(value any) (StagedFile, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return StagedFile{}, false
	}
	data, _ := m["data"].(string)
	if data == "" {
		return StagedFile{}, false
	}
	fileName, _ := m["fileName"].(string)
	mimeType, _ := m["mimeType"].(string)
	return StagedFile{Data: data, FileName: fileName, MimeType: mimeType}, true
}
