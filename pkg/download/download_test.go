package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

// rangeServer serves a fixed payload with byte-range support and counts hits.
func rangeServer(t *testing.T, payload string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write([]byte(payload))
			return
		}
		var offset int
		if _, err := parseRangeOffset(rng, &offset); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if offset >= len(payload) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range",
			"bytes "+strconv.Itoa(offset)+"-"+strconv.Itoa(len(payload)-1)+"/"+strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(payload[offset:]))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func parseRangeOffset(header string, offset *int) (int, error) {
	header = strings.TrimPrefix(header, "bytes=")
	header = strings.TrimSuffix(header, "-")
	n, err := strconv.Atoi(header)
	if err != nil {
		return 0, err
	}
	*offset = n
	return 1, nil
}

func TestFetch_Full(t *testing.T) {
	payload := strings.Repeat("raspios image bytes ", 100)
	srv, _ := rangeServer(t, payload)

	dest := filepath.Join(t.TempDir(), "image.img.xz")
	d := New(srv.Client())

	size, err := d.Fetch(context.Background(), srv.URL+"/image.img.xz", dest)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size: got %d, want %d", size, len(payload))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read dest: %v", err)
	}
	if string(got) != payload {
		t.Error("downloaded content does not match payload")
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("partial .tmp file should not remain after success")
	}
}

func TestFetch_ResumesPartial(t *testing.T) {
	payload := strings.Repeat("raspios image bytes ", 100)
	srv, _ := rangeServer(t, payload)

	dest := filepath.Join(t.TempDir(), "image.img.xz")

	// Simulate an interrupted previous run.
	partial := payload[:512]
	if err := os.WriteFile(dest+".tmp", []byte(partial), 0644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}

	d := New(srv.Client())
	size, err := d.Fetch(context.Background(), srv.URL+"/image.img.xz", dest)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size: got %d, want %d", size, len(payload))
	}

	got, _ := os.ReadFile(dest)
	if string(got) != payload {
		t.Error("resumed content does not match payload")
	}
}

func TestFetch_PartialAlreadyComplete(t *testing.T) {
	payload := "complete content"
	srv, _ := rangeServer(t, payload)

	dest := filepath.Join(t.TempDir(), "image.img.xz")
	if err := os.WriteFile(dest+".tmp", []byte(payload), 0644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}

	d := New(srv.Client())
	size, err := d.Fetch(context.Background(), srv.URL+"/image.img.xz", dest)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size: got %d, want %d", size, len(payload))
	}
	got, _ := os.ReadFile(dest)
	if string(got) != payload {
		t.Error("finalized content does not match payload")
	}
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(srv.Client())
	_, err := d.Fetch(context.Background(), srv.URL+"/missing", filepath.Join(t.TempDir(), "x"))
	if err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestFetchSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("abc123  image.img.xz\n"))
	}))
	defer srv.Close()

	d := New(srv.Client())
	body, err := d.FetchSidecar(context.Background(), srv.URL+"/image.img.xz.sha256")
	if err != nil {
		t.Fatalf("sidecar fetch failed: %v", err)
	}
	if body != "abc123  image.img.xz\n" {
		t.Errorf("unexpected sidecar body: %q", body)
	}
}
