package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageBytes bounds a decoded image.
const MaxImageBytes = 5 << 20

var ErrInvalidImage = errors.New("invalid image")

// Image is a decoded upload with its sniffed content type.
type Image struct {
	Data      []byte
	MIME      string
	Extension string
}

// DecodeImage accepts a data URL ("data:image/png;base64,...") or bare base64.
// The declared media type is ignored; the content is sniffed and must be an image.
func DecodeImage(input string) (Image, error) {
	payload := strings.TrimSpace(input)
	if strings.HasPrefix(payload, "data:") {
		header, encoded, ok := strings.Cut(payload, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("%w: data url is not base64", ErrInvalidImage)
		}
		payload = encoded
	}
	if payload == "" {
		return Image{}, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+3 {
		return Image{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if len(data) > MaxImageBytes {
		return Image{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%w: content is %s", ErrInvalidImage, mt.String())
	}
	return Image{Data: data, MIME: mt.String(), Extension: mt.Extension()}, nil
}
