package llm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid data URL")

// DataURLToBase64 strips the "data:<mime>;base64," header.
func DataURLToBase64(dataURL string) string {
	return dataURL[strings.Index(dataURL, ",")+1:]
}

// DecodeDataURL returns the mime type and decoded payload of a base64 data URL.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, ErrInvalidDataURL
	}
	comma := strings.Index(dataURL, ",")
	if comma < 0 {
		return "", nil, ErrInvalidDataURL
	}
	header := dataURL[len("data:"):comma]
	mimeType, enc, _ := strings.Cut(header, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mimeType, data, nil
}

func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
