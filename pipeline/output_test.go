package pipeline

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestMJPEGStream(t *testing.T) {

	s := NewMJPEG(80, nil)

	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL)

	if err != nil {
		t.Fatalf("get stream: %v", err)
	}

	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "boundary=frame") {
		t.Errorf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)

	for s.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if s.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", s.Clients())
	}

	s.Publish([]byte("jpegdata"))

	r := bufio.NewReader(resp.Body)

	lines := make([]string, 0, 3)

	for len(lines) < 3 {
		line, err := r.ReadString('\n')

		if err != nil {
			t.Fatalf("read stream: %v", err)
		}

		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}

	if lines[0] != "--frame" || lines[1] != "Content-Type: image/jpeg" || lines[2] != "" {
		t.Fatalf("unexpected part header %q", lines)
	}

	body := make([]byte, len("jpegdata"))

	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read frame: %v", err)
	}

	if !bytes.Equal(body, []byte("jpegdata")) {
		t.Errorf("unexpected frame %q", body)
	}

	s.Close()
}

func TestMJPEGSkipsEncodingWithoutClients(t *testing.T) {

	s := NewMJPEG(80, nil)
	defer s.Close()

	img := gocv.NewMat()
	defer img.Close()

	// an empty Mat would fail to encode, no clients means no encode
	if err := s.Write(img); err != nil {
		t.Errorf("expected write without clients to be skipped, got %v", err)
	}
}
