package storage

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func TestDecodeImage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	t.Run("data url", func(t *testing.T) {
		img, err := DecodeImage("data:image/png;base64," + encoded)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIME)
		assert.Equal(t, ".png", img.Extension)
		assert.Equal(t, pngBytes, img.Data)
	})

	t.Run("bare base64", func(t *testing.T) {
		img, err := DecodeImage(encoded)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIME)
	})

	t.Run("declared type is not trusted", func(t *testing.T) {
		_, err := DecodeImage("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("just some text")))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeImage("data:image/png;base64,@@@")
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("url encoded data url", func(t *testing.T) {
		_, err := DecodeImage("data:image/png," + encoded)
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := DecodeImage("  ")
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}
