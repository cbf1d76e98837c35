// Package qr renders the submission link students scan.
package qr

import (
	"errors"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// Link builds <baseURL>/submit?token=<token>.
func Link(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/submit?" + url.Values{"token": {token}}.Encode()
}

// PNG encodes link as a QR image of size pixels with medium recovery.
func PNG(link string, size int) ([]byte, error) {
	if link == "" {
		return nil, errors.New("qr: empty link")
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(link, qrcode.Medium, size)
}
