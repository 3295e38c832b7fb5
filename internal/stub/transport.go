package stub

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type appTransport struct {
	app *fiber.App
}

// Transport returns a RoundTripper that hands requests to app without a
// network listener.
func Transport(app *fiber.App) http.RoundTripper {
	return appTransport{app: app}
}

func (t appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	if out.ContentLength > 0 {
		out.Header.Set("Content-Length", strconv.FormatInt(out.ContentLength, 10))
	}

	resp, err := t.app.Test(out, -1)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}
