package httpclient

import (
	"io"
)

// DrainBody reads body to EOF and closes it. The byte count is only
// meaningful when err is nil; callers discard it on a partial read.
func DrainBody(body io.ReadCloser) (int64, error) {
	if body == nil {
		return 0, nil
	}
	n, err := io.Copy(io.Discard, body)
	_ = body.Close()
	return n, err
}
