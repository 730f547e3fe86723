package notify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidImage = errors.New("invalid image data")

// DecodeImage decodes a base64 image that may be wrapped in a data URL
// ("data:image/png;base64,..."). Everything up to the first comma is dropped.
func DecodeImage(data string) ([]byte, error) {
	if i := strings.IndexByte(data, ','); i >= 0 {
		data = data[i+1:]
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, ErrInvalidImage
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	return decoded, nil
}
