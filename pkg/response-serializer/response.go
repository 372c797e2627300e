package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the cache.
	StoredAt time.Time
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the response,
// including the time it was stored.
// The response body is consumed and replaced with an equivalent reader,
// so the response can still be sent to the client afterwards.
func StoredResponseToBytes(res *http.Response, storedAt time.Time) ([]byte, error) {
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}

	header := res.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.UnixMilli(), 10))

	snapshot := &http.Response{
		StatusCode:    res.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
	buf := &bytes.Buffer{}
	if err := snapshot.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse converts bytes created with StoredResponseToBytes back to a response.
// The request, if given, is set as the request of the returned response.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	if _, err := ReadBody(res); err != nil {
		return sRes, err
	}
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.UnixMilli(storedAt)
	}
	res.Header.Del(storedAtHeaderName)
	sRes.Response = res
	return sRes, nil
}

// ReadBody reads the whole response body and sets it back on the response,
// so that the body may be read again.
func ReadBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return body, nil
}
