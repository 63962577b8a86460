package classify

import (
	"net/url"
	"testing"
)

func TestClassify(t *testing.T) {
	origin, _ := url.Parse("http://localhost:8080")
	c := New(origin, []string{"https://cdn.jsdelivr.net/", "https://cdnjs.cloudflare.com/"}, nil)

	cases := []struct {
		url      string
		expected Class
	}{
		{"/", StaticAsset},
		{"/static/css/style.css", StaticAsset},
		{"http://localhost:8080/static/js/script.js", StaticAsset},
		{"/api/info", APICall},
		{"/api/jobs/42?x=1", APICall},
		{"/download/abc", APICall},
		{"http://localhost:8080/downloads", APICall},
		{"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css", StaticAsset},
		// external hosts are never api calls
		{"https://cdn.jsdelivr.net/api/download", StaticAsset},
		{"https://example.com/api/x", Ignored},
		{"https://cdn.example.com/app.js", Ignored},
		{"https://localhost:8080/", Ignored},
		{"http://localhost:9090/", Ignored},
		{"ws://localhost:8080/socket", Ignored},
		{"chrome-extension://abc/script.js", Ignored},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.url)
		if err != nil {
			t.Fatalf("Could not parse %s: %v", tc.url, err)
		}
		if class := c.Classify(u); class != tc.expected {
			t.Fatalf("Class of %s is %s, expected %s", tc.url, class, tc.expected)
		}
	}
}

func TestCustomMarkers(t *testing.T) {
	origin, _ := url.Parse("https://app.example.org")
	c := New(origin, nil, []string{"/jobs"})
	u, _ := url.Parse("/api/info")
	if class := c.Classify(u); class != StaticAsset {
		t.Fatalf("Class is %s", class)
	}
	u, _ = url.Parse("/jobs/1")
	if class := c.Classify(u); class != APICall {
		t.Fatalf("Class is %s", class)
	}
}
