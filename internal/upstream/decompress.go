package upstream

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding advertises the codings decodeBody understands.
const acceptEncoding = "gzip, zstd, br"

type zstdReadCloser struct {
	*zstd.Decoder
	body io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.body.Close()
}

type wrappedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (w wrappedReadCloser) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody wraps the response body with the decoder matching its
// Content-Encoding. Identity and unknown codings pass through.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return wrappedReadCloser{Reader: gr, closers: []io.Closer{gr, resp.Body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: zr, body: resp.Body}, nil
	case "br":
		return wrappedReadCloser{
			Reader:  brotli.NewReader(resp.Body),
			closers: []io.Closer{resp.Body},
		}, nil
	default:
		return resp.Body, nil
	}
}
