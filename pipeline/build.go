package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	pp "github.com/swdee/go-posepuppet"
	"github.com/swdee/go-posepuppet/config"
	"github.com/swdee/go-posepuppet/emit"
	"github.com/swdee/go-posepuppet/estimate"
	"github.com/swdee/go-posepuppet/render"
	"github.com/swdee/go-posepuppet/skeleton"
	"github.com/swdee/go-posepuppet/smoother"
	"github.com/swdee/go-posepuppet/tracker"
)

// NewFromConfig builds the application described by cfg: the camera, the
// estimator backend, the smoothing filter, the rig and puppets and every
// enabled emitter and output.  HTTP servers for the MJPEG stream and the
// WebSocket feed are started and shut down on Close
func NewFromConfig(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {

	if log == nil {
		log = logrus.StandardLogger()
	}

	if cfg.Estimator.CPUs != "" {
		if err := setAffinity(cfg.Estimator.CPUs); err != nil {
			log.WithError(err).Warn("Failed to set CPU affinity")
		} else {
			log.WithField("cpus", cfg.Estimator.CPUs).Info("CPU affinity set")
		}
	}

	params, err := ParamsFromConfig(cfg)

	if err != nil {
		return nil, err
	}

	filter, err := FilterFromConfig(cfg.Smoothing)

	if err != nil {
		return nil, err
	}

	cam, err := pp.OpenCamera(pp.CameraParams{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	})

	if err != nil {
		return nil, err
	}

	est, err := EstimatorFromConfig(ctx, cfg.Estimator, log.WithField("component", "estimator"))

	if err != nil {
		cam.Close()
		return nil, err
	}

	app, err := New(params, cam, est, filter, log)

	if err != nil {
		cam.Close()
		est.Close()
		return nil, err
	}

	if err := addOutputs(ctx, app, cfg, log); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// setAffinity pins the process to the cores of a CPU list
func setAffinity(list string) error {

	cores, err := pp.ParseCPUList(list)

	if err != nil {
		return err
	}

	return pp.SetCPUAffinity(pp.CPUCoreMask(cores))
}

// ParamsFromConfig converts the configuration into pipeline parameters
func ParamsFromConfig(cfg *config.Config) (Params, error) {

	p := DefaultParams()

	rig, err := rigFromConfig(cfg.Skeleton)

	if err != nil {
		return p, err
	}

	decoding, err := pp.ParseDecoding(cfg.Estimator.Decoding)

	if err != nil {
		return p, err
	}

	variant, err := render.ParseVariant(cfg.Render.Variant)

	if err != nil {
		return p, err
	}

	p.Rig = rig
	p.Threshold = cfg.Skeleton.Threshold
	p.Options = pp.EstimateOptions{
		FlipHorizontal: cfg.Estimator.FlipHorizontal,
		Decoding:       decoding,
		MaxDetections:  cfg.Estimator.MaxDetections,
		ScoreThreshold: cfg.Estimator.ScoreThreshold,
		NMSRadius:      cfg.Estimator.NMSRadius,
	}
	p.Tracker = tracker.Params{
		MatchIoU:          cfg.Tracking.MatchIoU,
		KeypointThreshold: cfg.Skeleton.Threshold,
		TrackBuffer:       cfg.Tracking.TrackBuffer,
	}
	p.Registry = tracker.RegistryParams{Grace: cfg.Tracking.Grace}
	p.Puppets = render.PuppetOptions{
		Variant:      variant,
		Rig:          rig,
		Tentacles:    cfg.Render.Tentacles,
		Asset:        render.NewAssetLoader(cfg.Render.Asset),
		DefaultScale: cfg.Render.DefaultScale,
	}
	p.MaxRate = cfg.Estimator.MaxRate
	p.DetectTimeout = cfg.Estimator.Timeout
	p.Push = cfg.Estimator.Push
	p.RenderFPS = cfg.Render.FPS
	p.Starfield = cfg.Render.Starfield
	p.Stats = cfg.Render.Stats
	p.Labels = cfg.Render.Labels
	p.TrailSize = cfg.Tracking.TrailSize

	return p, nil
}

// rigFromConfig loads the rig file or looks up the built in rig
func rigFromConfig(c config.SkeletonConfig) (skeleton.Rig, error) {

	if c.RigFile != "" {
		return skeleton.LoadRig(c.RigFile)
	}

	name := c.Rig

	if name == "" {
		name = "sketch2d"
	}

	return skeleton.RigByName(name)
}

// FilterFromConfig returns the smoothing filter.  The none filter is an
// exponential filter with a zero factor, which passes raw poses through
func FilterFromConfig(c config.SmoothingConfig) (smoother.Filter, error) {

	switch c.Filter {
	case "kalman":
		kp := smoother.DefaultKalmanParams()
		kp.ProcessNoise = c.ProcessNoise
		kp.MeasurementNoise = c.MeasurementNoise
		return smoother.NewKalman(kp)

	case "none":
		return smoother.NewExponential(0)

	case "exponential", "":
		f, err := smoother.NewExponential(c.Factor)

		if err != nil {
			return nil, err
		}

		f.GateBelow = c.GateBelow
		return f, nil
	}

	return nil, fmt.Errorf("unknown smoothing filter: %s", c.Filter)
}

// EstimatorFromConfig starts the configured estimator backend
func EstimatorFromConfig(ctx context.Context, c config.EstimatorConfig,
	log logrus.FieldLogger) (pp.Estimator, error) {

	switch c.Backend {
	case "dnn":
		dp := estimate.DNNDefaultParams()
		dp.ModelFile = c.Model
		dp.InputSize = c.InputSize
		dp.Backend = c.NetBackend
		dp.Target = c.NetTarget

		if c.PoolSize <= 1 {
			return estimate.NewDNN(dp)
		}

		return pp.NewPool(c.PoolSize, func(int) (pp.Estimator, error) {
			return estimate.NewDNN(dp)
		})

	case "worker":
		wp := estimate.WorkerDefaultParams()
		wp.Command = c.Command
		wp.Args = c.Args
		wp.Encoding = c.Encoding
		return estimate.NewWorker(ctx, wp, log)

	case "replay":
		return estimate.LoadReplay(c.Replay)
	}

	return nil, fmt.Errorf("%w: unknown backend %q", pp.ErrEstimatorUnavailable, c.Backend)
}

// addOutputs connects the emitters and outputs enabled in cfg to app
func addOutputs(ctx context.Context, app *App, cfg *config.Config, log logrus.FieldLogger) error {

	// handlers are grouped per listen address so the stream and the
	// WebSocket feed can share a port
	muxes := make(map[string]*http.ServeMux)
	var addrs []string

	handle := func(addr, path string, h http.Handler) {
		mux, ok := muxes[addr]

		if !ok {
			mux = http.NewServeMux()
			muxes[addr] = mux
			addrs = append(addrs, addr)
		}

		mux.Handle(path, h)
	}

	if cfg.MQTT.Enabled {
		mp := emit.MQTTDefaultParams()
		mp.Broker = cfg.MQTT.Broker
		mp.Prefix = cfg.MQTT.Prefix
		mp.Instance = cfg.InstanceID
		mp.QoS = cfg.MQTT.QoS
		mp.Encoding = cfg.MQTT.Encoding

		m := emit.NewMQTT(mp, log.WithField("component", "mqtt"))

		if err := m.Connect(ctx); err != nil {
			m.Close()
			return err
		}

		app.AddEmitter(m)
	}

	if cfg.WebSocket.Enabled {
		hub := emit.NewHub(log.WithField("component", "websocket"))
		app.AddEmitter(hub)
		handle(cfg.WebSocket.Addr, "/bones", hub)
	}

	if cfg.Stream.Enabled {
		stream := NewMJPEG(cfg.Stream.JPEGQuality, log.WithField("component", "stream"))
		app.AddOutput(stream)
		handle(cfg.Stream.Addr, "/stream", stream)
	}

	if cfg.Render.Window {
		app.AddOutput(NewWindow("Pose Puppet"))
	}

	for _, addr := range addrs {
		srv := &http.Server{
			Addr:              addr,
			Handler:           muxes[addr],
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.WithField("addr", srv.Addr).Info("HTTP server listening")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).WithField("addr", srv.Addr).Error("HTTP server failed")
			}
		}()

		// registered after the handlers so the servers stop first
		app.AddCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	return nil
}
