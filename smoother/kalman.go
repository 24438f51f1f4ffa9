package smoother

import (
	"errors"
	"fmt"
	"sync"

	pp "github.com/swdee/go-posepuppet"
	"gonum.org/v1/gonum/mat"
)

// KalmanParams defines the noise model of the keypoint Kalman filter
type KalmanParams struct {
	// ProcessNoise is the standard deviation of the acceleration noise in
	// pixels per cycle squared.  Larger values follow fast motion closer
	ProcessNoise float64
	// MeasurementNoise is the standard deviation of the detector position
	// error in pixels.  Larger values smooth more
	MeasurementNoise float64
	// InitialVariance is the starting position and velocity variance
	InitialVariance float64
}

// DefaultKalmanParams returns noise settings suitable for a 30 FPS
// PoseNet style detector on a 640x480 frame
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{
		ProcessNoise:     1.0,
		MeasurementNoise: 4.0,
		InitialVariance:  25.0,
	}
}

// kpState is the 4 dimensional state (x, y, vx, vy) of one keypoint
type kpState struct {
	mean *mat.VecDense
	cov  *mat.Dense
}

// Kalman is a constant velocity Kalman filter applied to every keypoint
// independently.  Compared to Exponential it removes jitter with less lag
// on steady motion
type Kalman struct {
	params    KalmanParams
	motionMat *mat.Dense
	updateMat *mat.Dense
	motionCov *mat.Dense
	measCov   *mat.SymDense
	// states per identity and part
	states map[int64]map[pp.Part]*kpState
	sync.Mutex
}

// NewKalman returns a keypoint Kalman filter
func NewKalman(p KalmanParams) (*Kalman, error) {

	if p.ProcessNoise <= 0 || p.MeasurementNoise <= 0 || p.InitialVariance <= 0 {
		return nil, fmt.Errorf("kalman noise parameters must be positive: %+v", p)
	}

	dt := 1.0

	// constant velocity transition
	motionMat := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	// observe position only
	updateMat := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})

	// discrete white noise acceleration model
	q := p.ProcessNoise * p.ProcessNoise
	motionCov := mat.NewDense(4, 4, []float64{
		q / 4, 0, q / 2, 0,
		0, q / 4, 0, q / 2,
		q / 2, 0, q, 0,
		0, q / 2, 0, q,
	})

	r := p.MeasurementNoise * p.MeasurementNoise
	measCov := mat.NewSymDense(2, []float64{
		r, 0,
		0, r,
	})

	return &Kalman{
		params:    p,
		motionMat: motionMat,
		updateMat: updateMat,
		motionCov: motionCov,
		measCov:   measCov,
		states:    make(map[int64]map[pp.Part]*kpState),
	}, nil
}

// Update runs a predict and correct step for every keypoint in raw.  With no
// previous smoothed pose the filter is initialised from raw and raw is
// returned unchanged
func (k *Kalman) Update(prev *pp.Pose, raw pp.Pose) pp.Pose {
	k.Lock()
	defer k.Unlock()

	parts, ok := k.states[raw.ID]

	if prev == nil || !ok {
		parts = make(map[pp.Part]*kpState, len(raw.Keypoints))
		k.states[raw.ID] = parts

		for part, kp := range raw.Keypoints {
			parts[part] = k.initiate(kp)
		}

		return raw.Clone()
	}

	next := prev.Clone()
	next.Score = raw.Score

	for part, kp := range raw.Keypoints {

		st, seen := parts[part]

		if !seen {
			parts[part] = k.initiate(kp)
			next.Keypoints[part] = kp
			continue
		}

		k.predict(st)

		if err := k.correct(st, kp); err != nil {
			// numerical failure, restart the keypoint from the measurement
			parts[part] = k.initiate(kp)
			next.Keypoints[part] = kp
			continue
		}

		next.Keypoints[part] = pp.Keypoint{
			Part:  part,
			X:     st.mean.AtVec(0),
			Y:     st.mean.AtVec(1),
			Score: kp.Score,
		}
	}

	return next
}

// Forget discards the filter state of an identity
func (k *Kalman) Forget(id int64) {
	k.Lock()
	defer k.Unlock()

	delete(k.states, id)
}

// Velocity returns the estimated velocity of a keypoint in pixels per cycle
func (k *Kalman) Velocity(id int64, part pp.Part) (vx, vy float64, ok bool) {
	k.Lock()
	defer k.Unlock()

	st, ok := k.states[id][part]
	if !ok {
		return 0, 0, false
	}

	return st.mean.AtVec(2), st.mean.AtVec(3), true
}

// initiate creates the state for a keypoint at rest at the measured position
func (k *Kalman) initiate(kp pp.Keypoint) *kpState {

	cov := mat.NewDense(4, 4, nil)

	for i := 0; i < 4; i++ {
		cov.Set(i, i, k.params.InitialVariance)
	}

	return &kpState{
		mean: mat.NewVecDense(4, []float64{kp.X, kp.Y, 0, 0}),
		cov:  cov,
	}
}

// predict advances the state one cycle with the motion model
func (k *Kalman) predict(st *kpState) {

	mean := mat.NewVecDense(4, nil)
	mean.MulVec(k.motionMat, st.mean)
	st.mean = mean

	cov := mat.NewDense(4, 4, nil)
	cov.Mul(k.motionMat, st.cov)
	cov.Mul(cov, k.motionMat.T())
	cov.Add(cov, k.motionCov)
	st.cov = cov
}

// correct folds the measured keypoint position into the state
func (k *Kalman) correct(st *kpState, kp pp.Keypoint) error {

	// project the state covariance to measurement space
	temp := mat.NewDense(2, 4, nil)
	temp.Mul(k.updateMat, st.cov)
	temp2 := mat.NewDense(2, 2, nil)
	temp2.Mul(temp, k.updateMat.T())

	projectedCov := mat.NewSymDense(2, nil)

	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			projectedCov.SetSym(i, j, temp2.At(i, j))
		}
	}

	projectedCov.AddSym(projectedCov, k.measCov)

	// perform Cholesky factorization of the projected covariance matrix
	chol := mat.Cholesky{}

	if ok := chol.Factorize(projectedCov); !ok {
		return errors.New("failed to factorize projected covariance")
	}

	// kalman gain K = P H^T S^-1, solved as S K^T = H P
	B := mat.NewDense(4, 2, nil)
	B.Mul(st.cov, k.updateMat.T())

	var gainT mat.Dense

	if err := chol.SolveTo(&gainT, B.T()); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}

	innovation := mat.NewVecDense(2, []float64{
		kp.X - st.mean.AtVec(0),
		kp.Y - st.mean.AtVec(1),
	})

	delta := mat.NewVecDense(4, nil)
	delta.MulVec(gainT.T(), innovation)
	st.mean.AddVec(st.mean, delta)

	// P = P - K S K^T
	kS := mat.NewDense(4, 2, nil)
	kS.Mul(gainT.T(), projectedCov)

	kSK := mat.NewDense(4, 4, nil)
	kSK.Mul(kS, &gainT)

	newCov := mat.NewDense(4, 4, nil)
	newCov.Sub(st.cov, kSK)
	st.cov = newCov

	return nil
}
