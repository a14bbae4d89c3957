package prediction

import (
	"encoding/base64"
	"errors"
	"strings"
)

// MaxImageBytes is the size ceiling for a submitted image.
const MaxImageBytes = 5 * 1024 * 1024

var (
	ErrNotAnImage  = errors.New("Please select an image file")
	ErrImageTooBig = errors.New("Image size should be less than 5MB")
	ErrNoSelection = errors.New("no file selected")
)

// Selection is a validated file ready for submission.
type Selection struct {
	Name        string
	ContentType string
	Data        []byte

	// Preview is a base64 data URL of the image, suitable for direct display.
	Preview string
}

// ValidateFile accepts a file iff its declared content type has the image/
// prefix and its size does not exceed MaxImageBytes. A rejected file produces
// no preview and requires a fresh selection.
func ValidateFile(name, contentType string, data []byte) (Selection, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return Selection{}, ErrNotAnImage
	}

	if len(data) > MaxImageBytes {
		return Selection{}, ErrImageTooBig
	}

	return Selection{
		Name:        name,
		ContentType: contentType,
		Data:        data,
		Preview:     "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}
