package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  b\n\tc ", "a b c"},
		{"", ""},
		{"one", "one"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHash_WhitespaceInsensitive(t *testing.T) {
	if Hash("Tel: 03-1234-5678") != Hash("  Tel:\n03-1234-5678  ") {
		t.Error("hash should ignore whitespace layout")
	}
	if Hash("Tel: 03-1234-5678") == Hash("Tel: 03-9999-0000") {
		t.Error("hash should change with content")
	}
	if len(Hash("x")) != 64 {
		t.Errorf("len = %d, want 64", len(Hash("x")))
	}
}

func TestVisibleText_DropsScripts(t *testing.T) {
	html := `<html><head><style>p{color:red}</style><script>var x=1;</script></head>
<body><p>City Hall</p><noscript>enable js</noscript><p>03-1234-5678</p></body></html>`
	text, err := VisibleText(strings.NewReader(html))
	if err != nil {
		t.Fatalf("VisibleText: %v", err)
	}
	if got := Normalize(text); got != "City Hall03-1234-5678" {
		t.Errorf("text = %q", got)
	}
}

func TestFingerprint_IgnoresScriptChurn(t *testing.T) {
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><script>var nonce=%d;</script><p>Tel 03-1234-5678</p></body></html>`, n)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	first, err := f.Fingerprint(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	second, err := f.Fingerprint(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if first != second {
		t.Error("script-only change altered the fingerprint")
	}
	if first != Hash("Tel 03-1234-5678") {
		t.Errorf("fingerprint = %s, want hash of visible text", first)
	}
}

func TestFingerprint_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("<p>literal</p>"))
	}))
	defer srv.Close()

	got, err := NewHTTPFetcher().Fingerprint(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if got != Hash("<p>literal</p>") {
		t.Error("plain text should be hashed verbatim")
	}
}

func TestFingerprint_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().Fingerprint(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want StatusError 404", err)
	}
}

func TestFingerprint_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(WithTimeout(20*time.Millisecond)).Fingerprint(context.Background(), srv.URL)
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestFingerprint_Delay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithDelay(50 * time.Millisecond))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := f.Fingerprint(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("3 paced fetches took %v, want >= 100ms", elapsed)
	}
}
