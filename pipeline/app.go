// Package pipeline runs the capture, detection and render loops that turn a
// video feed into puppet overlays.  The loops share nothing but latest only
// mailboxes, so rendering never waits on detection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	pp "github.com/swdee/go-posepuppet"
	"github.com/swdee/go-posepuppet/emit"
	"github.com/swdee/go-posepuppet/render"
	"github.com/swdee/go-posepuppet/skeleton"
	"github.com/swdee/go-posepuppet/smoother"
	"github.com/swdee/go-posepuppet/tracker"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"
)

// Params defines how the pipeline stages are wired
type Params struct {
	// Rig maps keypoints onto puppet bones
	Rig skeleton.Rig
	// Threshold is the keypoint acceptance score of the mapper
	Threshold float64
	// Options are passed to every estimator call
	Options  pp.EstimateOptions
	Tracker  tracker.Params
	Registry tracker.RegistryParams
	Puppets  render.PuppetOptions
	// MaxRate caps detections per second, zero is unlimited
	MaxRate float64
	// DetectTimeout bounds each estimator call, zero waits indefinitely
	DetectTimeout time.Duration
	// Push receives results by subscription when the estimator supports it
	Push bool
	// RenderFPS is the display rate of the render loop
	RenderFPS int
	// Starfield replaces the camera image with a star backdrop
	Starfield bool
	// Stats draws the timing overlay
	Stats bool
	// Labels draws the identity above each puppet
	Labels bool
	// TrailSize is the number of anchor positions kept per identity, zero
	// disables trails
	TrailSize int
}

// DefaultParams returns the settings of the alien demo
func DefaultParams() Params {

	puppets := render.DefaultPuppetOptions()

	return Params{
		Rig:       puppets.Rig,
		Threshold: skeleton.DefaultThreshold,
		Options:   pp.DefaultEstimateOptions(),
		Tracker:   tracker.DefaultParams(),
		Puppets:   puppets,
		RenderFPS: 30,
		Stats:     true,
	}
}

// App is the application state: the video source, estimator and all
// pipeline stages with the mailboxes connecting them
type App struct {
	params    Params
	log       logrus.FieldLogger
	source    pp.VideoSource
	estimator pp.Estimator
	// detection loop state
	tracker *tracker.Tracker
	store   *smoother.Store
	mapper  *skeleton.Mapper
	holder  *skeleton.Holder
	limiter *rate.Limiter
	// render loop state
	registry *tracker.Registry[render.Puppet]
	trail    *tracker.Trail
	stars    *render.Starfield
	labeler  *render.Labeler
	font     render.Font
	// mailboxes
	frames *Box[gocv.Mat]
	scenes *Box[Scene]

	emitters []emit.Emitter
	outputs  []Output
	meter    *Meter

	sceneSeq     atomic.Uint64
	renderSeq    atomic.Uint64
	emitErrors   atomic.Uint64
	noFrames     atomic.Uint64
	staleResults atomic.Uint64
	// processMu orders detection results, lastProcessed is the frame of
	// the newest result applied
	processMu     sync.Mutex
	lastProcessed uint64
	// lastSeen is the scene each identity last appeared in
	lastSeen map[int64]uint64
	// dropped holds identities released by the render loop that the
	// detection loop has yet to forget
	dropped   []drop
	droppedMu sync.Mutex
	// reconcileSeq is the scene the render loop is reconciling
	reconcileSeq uint64
	// threadBound is set once an output needs a locked OS thread
	threadBound bool
	// closers release resources in reverse order of acquisition
	closers   []func() error
	closeOnce sync.Once
}

// New returns an application reading from source and estimating with est.
// The app takes ownership of both and releases them on Close.  On error the
// caller keeps ownership
func New(p Params, source pp.VideoSource, est pp.Estimator, filter smoother.Filter,
	log logrus.FieldLogger) (*App, error) {

	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := p.Rig.Validate(); err != nil {
		return nil, err
	}

	if p.RenderFPS < 1 {
		return nil, fmt.Errorf("render FPS must be at least 1, got %d", p.RenderFPS)
	}

	var labeler *render.Labeler

	if p.Labels {
		var err error

		if labeler, err = render.NewLabeler(14); err != nil {
			return nil, err
		}
	}

	// a puppet held through its grace window must get its identity back
	if p.Tracker.TrackBuffer < p.Registry.Grace {
		p.Tracker.TrackBuffer = p.Registry.Grace
	}

	width, height := source.Size()

	a := &App{
		params:    p,
		log:       log,
		source:    source,
		estimator: est,
		tracker:   tracker.NewTracker(p.Tracker),
		store:     smoother.NewStore(filter),
		mapper:    skeleton.NewMapper(p.Rig, width, height),
		holder:    skeleton.NewHolder(),
		font:      render.DefaultFont(),
		frames:    NewFrameBox(),
		scenes:    NewSceneBox(),
		meter:     NewMeter(30),
		lastSeen:  make(map[int64]uint64),
	}

	a.mapper.Threshold = p.Threshold

	a.closers = append(a.closers, source.Close, est.Close, a.frames.Close, a.scenes.Close)

	if p.MaxRate > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(p.MaxRate), 1)
	}

	puppets := p.Puppets
	puppets.Rig = p.Rig

	a.registry = tracker.NewRegistry[render.Puppet](p.Registry, render.NewFactory(puppets),
		log.WithField("component", "registry"))
	a.registry.OnDrop = a.onDrop
	a.closers = append(a.closers, a.registry.Close)

	if p.TrailSize > 0 {
		a.trail = tracker.NewTrail(p.TrailSize)
	}

	if p.Starfield {
		a.stars = render.NewStarfield(render.DefaultStars, time.Now().UnixNano())
	}

	if labeler != nil {
		a.labeler = labeler
		a.closers = append(a.closers, labeler.Close)
	}

	return a, nil
}

// AddEmitter publishes every scene to e.  The app closes e on Close
func (a *App) AddEmitter(e emit.Emitter) {
	a.emitters = append(a.emitters, e)
	a.closers = append(a.closers, e.Close)
}

// AddOutput writes every rendered frame to o.  The app closes o on Close
func (a *App) AddOutput(o Output) {

	if _, ok := o.(threadBound); ok {
		a.threadBound = true
	}

	a.outputs = append(a.outputs, o)
	a.closers = append(a.closers, o.Close)
}

// AddCloser registers a resource to release on Close
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run starts the loops and blocks until ctx is cancelled or the video
// source fails
func (a *App) Run(ctx context.Context) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	start := func(name string, loop func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := loop(ctx)

			// loops stopping because ctx is done are not failures
			if err != nil && ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				a.log.WithError(err).WithField("loop", name).Error("Pipeline loop stopped")

				errOnce.Do(func() { firstErr = err })
				cancel()
			}
		}()
	}

	start("capture", a.captureLoop)

	if sub, ok := a.estimator.(pp.Subscriber); ok && a.params.Push {
		start("submit", func(ctx context.Context) error { return a.submitLoop(ctx, sub) })
		start("receive", func(ctx context.Context) error { return a.receiveLoop(ctx, sub) })
	} else {
		start("detect", a.detectLoop)
	}

	if len(a.emitters) > 0 {
		start("emit", a.emitLoop)
	}

	start("render", a.renderLoop)

	wg.Wait()

	return firstErr
}

// captureLoop reads frames into the frame mailbox
func (a *App) captureLoop(ctx context.Context) error {

	for ctx.Err() == nil {
		img := gocv.NewMat()
		start := time.Now()

		if err := a.source.Read(&img); err != nil {
			img.Close()

			if errors.Is(err, pp.ErrNoFrame) {
				if a.noFrames.Add(1)%100 == 1 {
					a.log.WithError(err).Warn("Video source returned no frame")
				}

				select {
				case <-ctx.Done():
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}

			return err
		}

		a.meter.Add(StageCapture, time.Since(start))
		a.frames.Publish(img)
	}

	return ctx.Err()
}

// detectLoop estimates poses on new frames, paced by the rate limiter.
// Estimators that pool several instances get a frame each in parallel
func (a *App) detectLoop(ctx context.Context) error {

	var (
		last uint64
		wg   sync.WaitGroup
	)

	slots := make(chan struct{}, a.concurrency())
	defer wg.Wait()

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		frame, seq, err := a.frames.Wait(ctx, last)

		if err != nil {
			return err
		}

		last = seq

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			poses, err := a.estimate(ctx, frame)
			frame.Close()

			if err != nil {
				if ctx.Err() != nil {
					return
				}

				// no poses this cycle
				a.log.WithError(err).WithField("frame", seq).Warn("Pose estimation failed")
				poses = nil
			}

			a.deliver(seq, poses)
		}()
	}
}

// concurrency is the number of estimator calls kept in flight
func (a *App) concurrency() int {

	if s, ok := a.estimator.(interface{ Size() int }); ok && s.Size() > 1 {
		return s.Size()
	}

	return 1
}

// deliver processes the result of a frame unless a newer frame's result
// was already processed.  It reports whether the result was used
func (a *App) deliver(frameSeq uint64, poses []pp.Pose) bool {
	a.processMu.Lock()
	defer a.processMu.Unlock()

	if frameSeq <= a.lastProcessed {
		a.staleResults.Add(1)
		return false
	}

	a.lastProcessed = frameSeq
	a.process(frameSeq, poses)

	return true
}

// estimate runs one estimator call with the optional timeout
func (a *App) estimate(ctx context.Context, frame gocv.Mat) ([]pp.Pose, error) {

	if a.params.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.params.DetectTimeout)
		defer cancel()
	}

	start := time.Now()
	poses, err := a.estimator.Estimate(ctx, frame, a.params.Options)
	a.meter.Add(StageInference, time.Since(start))

	return poses, err
}

// submitLoop sends each new frame to a push estimator
func (a *App) submitLoop(ctx context.Context, sub pp.Subscriber) error {

	var last uint64

	for {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		frame, seq, err := a.frames.Wait(ctx, last)

		if err != nil {
			return err
		}

		last = seq

		err = sub.Submit(ctx, frame, a.params.Options)
		frame.Close()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).WithField("frame", seq).Warn("Frame submission failed")
		}
	}
}

// receiveLoop processes results pushed by the estimator
func (a *App) receiveLoop(ctx context.Context, sub pp.Subscriber) error {

	for poses := range sub.Subscribe(ctx) {
		a.processMu.Lock()
		a.process(a.frames.Seq(), poses)
		a.processMu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: result subscription ended", pp.ErrEstimatorUnavailable)
}

// process tracks, smooths and maps the poses of one cycle and publishes the
// scene.  Callers hold processMu
func (a *App) process(frameSeq uint64, poses []pp.Pose) {

	start := time.Now()

	a.forgetDropped()

	poses = a.tracker.Assign(poses)
	smoothed := a.store.SmoothAll(poses)

	frames := make([]skeleton.Frame, 0, len(smoothed))

	for _, p := range smoothed {
		frames = append(frames, a.holder.Merge(a.mapper.Map(p)))
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].ID < frames[j].ID })

	seq := a.sceneSeq.Add(1)

	for _, f := range frames {
		a.lastSeen[f.ID] = seq
	}

	a.meter.Add(StageTracking, time.Since(start))

	a.scenes.Publish(Scene{
		Seq:      seq,
		FrameSeq: frameSeq,
		At:       time.Now(),
		Frames:   frames,
	})
}

// drop is an identity released by the render loop after reconciling scene
// seq
type drop struct {
	id  int64
	seq uint64
}

// onDrop is called by the registry in the render loop.  Detection state is
// forgotten at the start of the next detection cycle
func (a *App) onDrop(id int64) {

	if a.trail != nil {
		a.trail.Drop(id)
	}

	a.droppedMu.Lock()
	a.dropped = append(a.dropped, drop{id: id, seq: a.reconcileSeq})
	a.droppedMu.Unlock()
}

// forgetDropped drops the smoothing and held skeleton state of released
// identities, unless the identity reappeared in a scene after the one that
// released it
func (a *App) forgetDropped() {

	a.droppedMu.Lock()
	drops := a.dropped
	a.dropped = nil
	a.droppedMu.Unlock()

	for _, d := range drops {
		if a.lastSeen[d.id] > d.seq {
			continue
		}

		delete(a.lastSeen, d.id)
		a.store.Drop(d.id)
		a.holder.Drop(d.id)
	}
}

// emitLoop publishes each scene to the emitters
func (a *App) emitLoop(ctx context.Context) error {

	var last uint64

	for {
		scene, seq, err := a.scenes.Wait(ctx, last)

		if err != nil {
			return err
		}

		last = seq
		msg := emit.NewMessage(scene.Seq, scene.At, a.params.Rig, scene.Frames)

		for _, e := range a.emitters {
			if err := e.Publish(ctx, msg); err != nil {
				if a.emitErrors.Add(1)%100 == 1 {
					a.log.WithError(err).Warn("Skeleton publish failed")
				}
			}
		}
	}
}

// renderLoop draws the latest scene over the latest frame at the display
// rate
func (a *App) renderLoop(ctx context.Context) error {

	if a.threadBound {
		// windows are created, drawn and destroyed on this thread
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer a.closeThreadBound()
	}

	ticker := time.NewTicker(time.Second / time.Duration(a.params.RenderFPS))
	defer ticker.Stop()

	var lastScene uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			lastScene = a.renderFrame(lastScene)
		}
	}
}

// drawPuppets draws the puppets of the scene, then those held through their
// grace window with their last pose.  It returns the identities drawn
func (a *App) drawPuppets(img *gocv.Mat, view render.View, scene Scene, newScene bool) []int64 {

	ids := make([]int64, 0, len(scene.Frames))
	drawn := make(map[int64]bool, len(scene.Frames))

	for _, f := range scene.Frames {
		p, ok := a.registry.Get(f.ID)

		if !ok {
			// puppet still being allocated
			continue
		}

		p.Apply(f)
		p.Draw(img)

		ids = append(ids, f.ID)
		drawn[f.ID] = true

		if newScene && a.trail != nil && f.HasAnchor {
			pt := view.ToPixel(f.Anchor)
			a.trail.Add(f.ID, float64(pt.X), float64(pt.Y))
		}
	}

	for _, id := range a.registry.Ready() {
		if drawn[id] {
			continue
		}

		if p, ok := a.registry.Get(id); ok {
			p.Draw(img)
			ids = append(ids, id)
		}
	}

	return ids
}

// closeThreadBound releases the outputs tied to the render thread
func (a *App) closeThreadBound() {
	for _, o := range a.outputs {
		if _, ok := o.(threadBound); ok {
			if err := o.Close(); err != nil {
				a.log.WithError(err).Warn("Output close failed")
			}
		}
	}
}

// renderFrame draws one output frame and returns the scene sequence drawn
func (a *App) renderFrame(lastScene uint64) uint64 {

	start := time.Now()

	frame, _, ok := a.frames.Latest()

	if !ok {
		return lastScene
	}

	defer frame.Close()

	if a.stars != nil {
		a.stars.Draw(&frame)
	}

	scene, seq, hasScene := a.scenes.Latest()
	newScene := hasScene && seq != lastScene

	if newScene {
		a.reconcileSeq = seq
		a.registry.Reconcile(scene.IDs())
	}

	a.registry.Collect()

	view := render.NewView(a.params.Rig, &frame)
	ids := a.drawPuppets(&frame, view, scene, newScene)

	if a.trail != nil {
		render.Trail(&frame, ids, a.trail, render.DefaultTrailStyle())
	}

	if a.labeler != nil {
		a.drawLabels(&frame, view, scene.Frames)
	}

	a.meter.Add(StageRendering, time.Since(start))
	a.meter.Tick(time.Now())

	if a.params.Stats {
		stats := render.Stats{
			Frame:     int(a.renderSeq.Add(1)),
			FPS:       a.meter.FPS(),
			Objects:   len(scene.Frames),
			Capture:   a.meter.Mean(StageCapture),
			Inference: a.meter.Mean(StageInference),
			Tracking:  a.meter.Mean(StageTracking),
			Rendering: a.meter.Mean(StageRendering),
		}

		if hasScene {
			stats.Lag = time.Since(scene.At)
		}

		stats.Total = stats.Capture + stats.Inference + stats.Tracking + stats.Rendering

		render.DrawStats(&frame, stats, a.font)
	}

	for _, o := range a.outputs {
		if err := o.Write(frame); err != nil {
			a.log.WithError(err).Warn("Output write failed")
		}
	}

	if hasScene {
		return seq
	}

	return lastScene
}

// drawLabels writes the identity above each anchored figure
func (a *App) drawLabels(img *gocv.Mat, view render.View, frames []skeleton.Frame) {

	for _, f := range frames {
		if !f.HasAnchor {
			continue
		}

		size := f.Scale
		if size <= 0 {
			size = a.params.Puppets.DefaultScale
		}

		pt := view.ToPixel(f.Anchor)
		at := image.Pt(pt.X-int(size/2), pt.Y-int(size))

		if err := a.labeler.Draw(img, fmt.Sprintf("ID %d", f.ID), at, render.IDColor(f.ID)); err != nil {
			a.log.WithError(err).Debug("Label draw failed")
		}
	}
}

// Stats returns the pipeline counters
func (a *App) Stats() Stats {
	return Stats{
		FramesDropped: a.frames.Drops(),
		ScenesDropped: a.scenes.Drops(),
		EmitErrors:    a.emitErrors.Load(),
		NoFrames:      a.noFrames.Load(),
		StaleResults:  a.staleResults.Load(),
		Puppets:       len(a.registry.Ready()),
		FPS:           a.meter.FPS(),
	}
}

// Stats are the pipeline counters
type Stats struct {
	// FramesDropped counts camera frames never used for detection
	FramesDropped uint64
	// ScenesDropped counts scenes replaced before they were emitted
	ScenesDropped uint64
	EmitErrors    uint64
	NoFrames      uint64
	// StaleResults counts detections finished after a newer frame's
	StaleResults uint64
	Puppets      int
	FPS          float64
}

// Close releases every resource in reverse order of acquisition.  Run must
// have returned
func (a *App) Close() error {

	var errs []error

	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}
