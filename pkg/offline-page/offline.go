// Package offlinepage synthesizes the fallback document served when neither
// the network nor the cache can answer a navigation.
package offlinepage

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

const ContentType = "text/html; charset=utf-8"

// The page must render without the network: no external scripts, styles, fonts or images.
const page = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Offline - CV Optimizer Pro</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            margin: 0;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            text-align: center;
        }
        .offline { max-width: 500px; padding: 2rem; }
        .offline h1 { font-size: 2rem; margin-bottom: 1rem; }
        .offline p { font-size: 1.1rem; opacity: 0.9; line-height: 1.6; margin-bottom: 2rem; }
        .offline button {
            background: rgba(255, 255, 255, 0.2);
            border: 1px solid rgba(255, 255, 255, 0.3);
            color: white;
            padding: 0.75rem 1.5rem;
            border-radius: 0.5rem;
            font-size: 1rem;
            cursor: pointer;
        }
        .offline button:hover { background: rgba(255, 255, 255, 0.3); }
    </style>
</head>
<body>
    <div class="offline">
        <h1>You are offline</h1>
        <p>There is no network connection. CV Optimizer Pro needs the network to analyze your CV.</p>
        <button type="button" onclick="window.location.reload()">Try again</button>
    </div>
    <script>
        window.addEventListener('online', function () { window.location.reload(); });
    </script>
</body>
</html>
`

// Page returns the offline document.
func Page() []byte {
	return []byte(page)
}

// Response returns the offline document as a 200 response to the request.
func Response(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", ContentType)
	header.Set("Content-Length", strconv.Itoa(len(page)))
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(Page())),
		ContentLength: int64(len(page)),
		Request:       req,
	}
}
