package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const storedAtHeaderName = "Worker-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the cache.
	StoredAt time.Time
}

func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := bytesToResponse(b)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	storedAtInt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, err
	}
	sRes.StoredAt = time.Unix(storedAtInt, 0)
	// delete extra headers
	sRes.Response.Header.Del(storedAtHeaderName)
	return sRes, nil
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// StoredResponseToBytes serializes the response together with the request that produced it.
// The response body is consumed and replaced with an equivalent one, so the response
// can still be sent to the client afterwards.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	buf := &bytes.Buffer{}

	if req := res.Request; req != nil {
		err := storableRequest(req).Write(buf)
		if err != nil {
			log.Warn().Err(err).Msg("Could not write request to bytes")
		}
	} else {
		log.Warn().Msg("Request not set")
	}
	buf.Write(delim)

	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	if err != nil {
		return nil, err
	}

	buf.Write(bts)

	return buf.Bytes(), nil
}

// Clone duplicates a response, including its body.
// The body of the original is read completely and replaced, so both responses
// can be consumed independently.
func Clone(res *http.Response) (*http.Response, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	clone := *res
	clone.Header = res.Header.Clone()
	clone.Trailer = res.Trailer.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return &clone, nil
}

// storableRequest strips everything but the request line and headers.
func storableRequest(req *http.Request) *http.Request {
	stripped := &http.Request{
		Method:     req.Method,
		URL:        req.URL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     req.Header.Clone(),
		Host:       req.Host,
	}
	if stripped.Header == nil {
		stripped.Header = make(http.Header)
	}
	return stripped
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	bParts := bytes.SplitN(b, delim, 2)
	if len(bParts) != 2 {
		return nil, fmt.Errorf("Malformed stored response (%d bytes)", len(b))
	}
	reqBytes := bParts[0]
	resBytes := bParts[1]
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
	if err != nil {
		log.Warn().Err(err).Bytes("bytes", reqBytes).Msg("Could not read request from stored response")
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}
