package estimate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	pp "github.com/swdee/go-posepuppet"
	"gocv.io/x/gocv"
)

// WorkerParams defines the external inference process settings
type WorkerParams struct {
	// Command is the worker program, eg: a script running MediaPipe or a
	// PoseNet model
	Command string
	// Args are passed to the worker program
	Args []string
	// Encoding of frame pixels sent to the worker, jpeg or raw BGR
	Encoding string
	// JPEGQuality is used when Encoding is jpeg
	JPEGQuality int
	// WriteTimeout bounds a single frame write to the worker's stdin
	WriteTimeout time.Duration
	// StopTimeout is how long Close waits before killing the worker
	StopTimeout time.Duration
}

// WorkerDefaultParams returns JPEG frame encoding with two second timeouts
func WorkerDefaultParams() WorkerParams {
	return WorkerParams{
		Encoding:     EncodingJPEG,
		JPEGQuality:  80,
		WriteTimeout: 2 * time.Second,
		StopTimeout:  2 * time.Second,
	}
}

// WorkerStats are the counters of a worker
type WorkerStats struct {
	// Sent is the number of frames written to the worker
	Sent uint64
	// Received is the number of responses read back
	Received uint64
	// Dropped counts pushed results replaced before a subscriber read them
	Dropped uint64
	// Errors counts failed writes and error responses
	Errors uint64
}

// submission is the context of a frame sent with Submit
type submission struct {
	opts  pp.EstimateOptions
	width int
}

// Worker is an Estimator backed by an external process exchanging length
// prefixed msgpack messages over stdin and stdout.  It supports both the
// request/response model (Estimate) and push delivery (Submit/Subscribe)
type Worker struct {
	params WorkerParams
	log    logrus.FieldLogger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	seq     atomic.Uint64
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[uint64]chan response
	submitted map[uint64]submission
	subs      map[chan []pp.Pose]struct{}

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
	errs     atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorker starts the worker program.  The process is stopped when ctx is
// done or Close is called
func NewWorker(ctx context.Context, p WorkerParams,
	log logrus.FieldLogger) (*Worker, error) {

	if p.Command == "" {
		return nil, fmt.Errorf("%w: no worker command", pp.ErrEstimatorUnavailable)
	}

	if _, err := exec.LookPath(p.Command); err != nil {
		return nil, fmt.Errorf("%w: %w", pp.ErrEstimatorUnavailable, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(wctx, p.Command, p.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start %s: %w",
			pp.ErrEstimatorUnavailable, p.Command, err)
	}

	w := newWorker(wctx, cancel, p, stdin, stdout, log)
	w.cmd = cmd

	w.log.WithFields(logrus.Fields{
		"command": p.Command,
		"pid":     cmd.Process.Pid,
	}).Info("Pose worker started")

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess()

	return w, nil
}

// newWorker wires a worker to the given pipes and starts reading responses
func newWorker(ctx context.Context, cancel context.CancelFunc, p WorkerParams,
	stdin io.WriteCloser, stdout io.Reader, log logrus.FieldLogger) *Worker {

	if log == nil {
		log = logrus.StandardLogger()
	}

	w := &Worker{
		params:    p,
		log:       log.WithField("component", "worker"),
		stdin:     stdin,
		stdout:    stdout,
		pending:   make(map[uint64]chan response),
		submitted: make(map[uint64]submission),
		subs:      make(map[chan []pp.Pose]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.readResults()

	return w
}

// Estimate sends the frame and waits for its poses
func (w *Worker) Estimate(ctx context.Context, frame gocv.Mat,
	opts pp.EstimateOptions) ([]pp.Pose, error) {

	req, err := w.newRequest(frame, opts)

	if err != nil {
		return nil, err
	}

	ch := make(chan response, 1)

	w.mu.Lock()
	w.pending[req.Seq] = ch
	w.mu.Unlock()

	forget := func() {
		w.mu.Lock()
		delete(w.pending, req.Seq)
		w.mu.Unlock()
	}

	if err := w.send(ctx, req); err != nil {
		forget()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("worker error: %s", resp.Error)
		}
		return pp.ApplyOptions(toPoses(resp.Poses), opts, req.Width), nil

	case <-ctx.Done():
		forget()
		return nil, ctx.Err()

	case <-w.done:
		forget()
		return nil, fmt.Errorf("%w: worker stopped", pp.ErrEstimatorUnavailable)
	}
}

// Submit sends the frame without waiting, its poses are delivered to
// subscribers
func (w *Worker) Submit(ctx context.Context, frame gocv.Mat,
	opts pp.EstimateOptions) error {

	req, err := w.newRequest(frame, opts)

	if err != nil {
		return err
	}

	w.mu.Lock()
	w.submitted[req.Seq] = submission{opts: opts, width: req.Width}
	w.mu.Unlock()

	if err := w.send(ctx, req); err != nil {
		w.mu.Lock()
		delete(w.submitted, req.Seq)
		w.mu.Unlock()
		return err
	}

	return nil
}

// Subscribe returns a channel receiving the poses of each submitted frame.
// Only the latest result is buffered, a slow reader misses older ones
func (w *Worker) Subscribe(ctx context.Context) <-chan []pp.Pose {

	ch := make(chan []pp.Pose, 1)

	select {
	case <-w.done:
		close(ch)
		return ch
	default:
	}

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if _, ok := w.subs[ch]; ok {
				delete(w.subs, ch)
				close(ch)
			}
			w.mu.Unlock()
		case <-w.done:
		}
	}()

	return ch
}

// newRequest encodes the frame into a worker request
func (w *Worker) newRequest(frame gocv.Mat, opts pp.EstimateOptions) (request, error) {

	data, err := encodeFrame(frame, w.params.Encoding, w.params.JPEGQuality)

	if err != nil {
		return request{}, err
	}

	return request{
		FrameData: data,
		Encoding:  w.params.Encoding,
		Width:     frame.Cols(),
		Height:    frame.Rows(),
		Seq:       w.seq.Add(1),
		Options:   toWireOptions(opts),
	}, nil
}

// send writes the request to the worker within the write timeout
func (w *Worker) send(ctx context.Context, req request) error {

	select {
	case <-w.done:
		return fmt.Errorf("%w: worker stopped", pp.ErrEstimatorUnavailable)
	default:
	}

	writeErr := make(chan error, 1)

	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		writeErr <- writeMessage(w.stdin, req)
	}()

	timeout := w.params.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-writeErr:
		if err != nil {
			w.errs.Add(1)
			return fmt.Errorf("failed to write to worker: %w", err)
		}
		w.sent.Add(1)
		return nil

	case <-timer.C:
		w.errs.Add(1)
		return errors.New("worker write timeout, worker may be hung")

	case <-ctx.Done():
		return ctx.Err()
	}
}

// readResults dispatches worker responses until its stdout closes
func (w *Worker) readResults() {
	defer w.wg.Done()
	defer w.finish()

	for {
		var resp response

		if err := readMessage(w.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
				w.ctx.Err() != nil {
				w.log.Debug("Worker output closed")
			} else {
				w.log.WithError(err).Error("Failed to read from worker")
			}
			return
		}

		w.received.Add(1)

		if resp.Error != "" {
			w.errs.Add(1)
			w.log.WithField("seq", resp.Seq).Warnf("Worker error: %s", resp.Error)
		}

		w.dispatch(resp)
	}
}

// dispatch hands a response to its waiting Estimate call or to subscribers
func (w *Worker) dispatch(resp response) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.pending[resp.Seq]; ok {
		delete(w.pending, resp.Seq)
		ch <- resp
		return
	}

	sub, ok := w.submitted[resp.Seq]

	if !ok {
		w.log.WithField("seq", resp.Seq).Debug("Dropping response for unknown frame")
		return
	}

	delete(w.submitted, resp.Seq)

	if resp.Error != "" {
		return
	}

	poses := pp.ApplyOptions(toPoses(resp.Poses), sub.opts, sub.width)

	for ch := range w.subs {
		select {
		case ch <- poses:
			continue
		default:
		}

		// replace the unread result with the latest
		select {
		case <-ch:
			w.dropped.Add(1)
		default:
		}

		select {
		case ch <- poses:
		default:
		}
	}
}

// finish marks the worker stopped and closes subscriber channels
func (w *Worker) finish() {

	close(w.done)

	w.mu.Lock()
	defer w.mu.Unlock()

	for ch := range w.subs {
		close(ch)
		delete(w.subs, ch)
	}
}

// logStderr maps the worker's log lines onto our log levels
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			w.log.WithField("log", line).Error("Worker error")
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			w.log.WithField("log", line).Warn("Worker warning")
		default:
			w.log.WithField("log", line).Debug("Worker log")
		}
	}
}

// waitProcess reaps the worker process
func (w *Worker) waitProcess() {
	defer w.wg.Done()

	err := w.cmd.Wait()

	if err != nil && w.ctx.Err() == nil {
		w.log.WithError(err).Error("Worker process exited unexpectedly")
		return
	}

	w.log.Debug("Worker process exited")
}

// Stats returns the worker counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Sent:     w.sent.Load(),
		Received: w.received.Load(),
		Dropped:  w.dropped.Load(),
		Errors:   w.errs.Load(),
	}
}

// Close stops the worker, killing the process if it does not exit within
// the stop timeout
func (w *Worker) Close() error {

	w.closeOnce.Do(func() {

		// closing stdin asks the worker to exit
		_ = w.stdin.Close()

		timeout := w.params.StopTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}

		stopped := make(chan struct{})

		go func() {
			w.wg.Wait()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(timeout):
			w.log.Warn("Worker stop timeout, killing process")
			w.cancel()
			<-stopped
		}

		w.cancel()
	})

	return nil
}

// encodeFrame returns the frame pixels in the requested encoding
func encodeFrame(frame gocv.Mat, encoding string, quality int) ([]byte, error) {

	if frame.Empty() {
		return nil, pp.ErrNoFrame
	}

	if encoding == EncodingRaw {
		return frame.ToBytes(), nil
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame,
		[]int{int(gocv.IMWriteJpegQuality), quality})

	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return data, nil
}
