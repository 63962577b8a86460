package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = responseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestStoredResponseSerialization(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://localhost:8080/static/css/style.css", nil)
	res := &http.Response{
		StatusCode: 200,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("body { color: red }")),
		Request:    req,
	}
	res.Header.Add("Content-Type", "text/css")
	storedAt := time.Now()

	bts, err := StoredResponseToBytes(StoredResponse{Response: res, StoredAt: storedAt})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	// the original response must still be readable
	if body, _ := io.ReadAll(res.Body); string(body) != "body { color: red }" {
		t.Fatalf("Original body is %s", body)
	}

	res2, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.Response.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("Content-Type header wrong %+v", res2.Response.Header)
	}
	if res2.Response.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Stored-at header not removed %+v", res2.Response.Header)
	}
	if res2.StoredAt.Unix() != storedAt.Unix() {
		t.Fatalf("Stored at %v, expected %v", res2.StoredAt, storedAt)
	}
	if res2.Response.Request == nil || res2.Response.Request.URL.Path != "/static/css/style.css" {
		t.Fatalf("Request not restored: %+v", res2.Response.Request)
	}
	if body, _ := io.ReadAll(res2.Response.Body); string(body) != "body { color: red }" {
		t.Fatalf("Stored body is %s", body)
	}
}

func TestMalformedBytes(t *testing.T) {
	if _, err := BytesToStoredResponse([]byte("HTTP/1.1 200 OK\r\n\r\n")); err == nil {
		t.Fatal("Expected error for bytes without request part")
	}
}

func TestCloneDuplicatesBody(t *testing.T) {
	res := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"X-Test": {"1"}},
		Body:       io.NopCloser(strings.NewReader("single use")),
	}
	clone, err := Clone(res)
	if err != nil {
		t.Fatal(err)
	}
	clone.Header.Set("X-Test", "2")

	first, _ := io.ReadAll(res.Body)
	second, _ := io.ReadAll(clone.Body)
	if string(first) != "single use" || string(second) != "single use" {
		t.Fatalf("Bodies are %q and %q", first, second)
	}
	if res.Header.Get("X-Test") != "1" {
		t.Fatal("Clone shares headers with the original")
	}
}
