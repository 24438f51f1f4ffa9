package pipeline

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Output receives each rendered frame
type Output interface {
	Write(img gocv.Mat) error
	Close() error
}

// MJPEG serves rendered frames as a multipart JPEG stream to any number of
// HTTP clients.  Each client receives the latest frame, slow clients skip
// frames
type MJPEG struct {
	quality int
	log     logrus.FieldLogger
	frame   []byte
	seq     uint64
	closed  bool
	clients atomic.Int32
	mu      sync.Mutex
	cond    *sync.Cond
}

// NewMJPEG returns a stream encoding frames at the JPEG quality
func NewMJPEG(quality int, log logrus.FieldLogger) *MJPEG {

	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &MJPEG{quality: quality, log: log}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Write encodes the frame and wakes the clients
func (s *MJPEG) Write(img gocv.Mat) error {

	if s.clients.Load() == 0 {
		// nobody is watching
		return nil
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img,
		[]int{int(gocv.IMWriteJpegQuality), s.quality})

	if err != nil {
		return fmt.Errorf("error encoding frame: %w", err)
	}

	defer buf.Close()

	s.Publish(buf.GetBytes())

	return nil
}

// Publish sets the latest encoded JPEG
func (s *MJPEG) Publish(jpeg []byte) {

	data := make([]byte, len(jpeg))
	copy(data, jpeg)

	s.mu.Lock()
	s.frame = data
	s.seq++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// next blocks until a frame newer than after is available
func (s *MJPEG) next(after uint64, gone <-chan struct{}) ([]byte, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && s.seq <= after {
		select {
		case <-gone:
			return nil, 0, false
		default:
		}
		s.cond.Wait()
	}

	if s.closed {
		return nil, 0, false
	}

	return s.frame, s.seq, true
}

// ServeHTTP streams frames until the client disconnects or the stream is
// closed
func (s *MJPEG) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	s.clients.Add(1)
	defer s.clients.Add(-1)

	s.log.WithField("remote", r.RemoteAddr).Info("New stream client connection established")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	gone := r.Context().Done()

	// wake the waiting loop when the client goes away
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-gone:
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stop:
		}
	}()

	flusher, _ := w.(http.Flusher)
	var seq uint64

	for {
		frame, next, ok := s.next(seq, gone)

		if !ok {
			s.log.WithField("remote", r.RemoteAddr).Info("Stream client disconnected")
			return
		}

		seq = next

		w.Write([]byte("--frame\r\n"))
		w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
		w.Write(frame)

		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Clients returns the number of connected stream clients
func (s *MJPEG) Clients() int {
	return int(s.clients.Load())
}

// Close ends every client stream
func (s *MJPEG) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// threadBound is implemented by outputs that must be created, written and
// closed from one locked OS thread
type threadBound interface {
	Output
	threadBound()
}

// Window shows rendered frames in a local OpenCV window.  The window is
// opened on the first Write so it belongs to the render loop's thread
type Window struct {
	title string
	win   *gocv.Window
}

// NewWindow returns a window with the title, opened on first use
func NewWindow(title string) *Window {
	return &Window{title: title}
}

func (w *Window) threadBound() {}

// Write shows the frame
func (w *Window) Write(img gocv.Mat) error {

	if w.win == nil {
		w.win = gocv.NewWindow(w.title)
	}

	w.win.IMShow(img)
	w.win.WaitKey(1)
	return nil
}

// Close destroys the window if it was opened
func (w *Window) Close() error {

	if w.win == nil {
		return nil
	}

	err := w.win.Close()
	w.win = nil
	return err
}
