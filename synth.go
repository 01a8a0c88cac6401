// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// SynthOpt contains options for the synthetic pose2 generator
type SynthOpt struct {
	NumPoses    int     // Number of poses
	Seed        uint64  // Random seed
	Step        float64 // Forward motion per pose [m]
	TurnEvery   int     // Turn left by 90 deg every TurnEvery poses (0: straight)
	SigmaXY     float64 // Odometry / loop closure noise, translation [m]
	SigmaTheta  float64 // Odometry / loop closure noise, heading [rad]
	LoopRadius  float64 // Max true distance of a loop closure [m]
	LoopGap     int     // Min index distance of a loop closure
	LoopProb    float64 // Probability of adding an eligible loop closure
	NumOutliers int     // Bogus loop closures between random poses
	Robust      bool    // Wrap loop closures into mixtures with a null hypothesis
	NullWeight  float64 // Weight of the null hypothesis
	NullScale   float64 // Covariance scale of the null hypothesis
}

// NewSynthOpt creates a new SynthOpt with default values
func NewSynthOpt() *SynthOpt {
	return &SynthOpt{
		NumPoses:    40,
		Seed:        1,
		Step:        1.0,
		TurnEvery:   10, // Square loop
		SigmaXY:     0.05,
		SigmaTheta:  ToRad(1.0),
		LoopRadius:  1.5,
		LoopGap:     5,
		LoopProb:    1.0,
		NumOutliers: 0,
		Robust:      false,
		NullWeight:  0.1,
		NullScale:   1e4,
	}
}

// Synthesize generates a planar trajectory with ground truth, noisy odometry,
// loop closures and optional outliers. Pose 0 is anchored by a prior at its
// true value; the other states start from dead reckoning.
func Synthesize(opt *SynthOpt) (*Graph, error) {
	if opt == nil {
		opt = NewSynthOpt()
	}
	if opt.NumPoses < 2 {
		return nil, fmt.Errorf("%w: need at least 2 poses, got %d", ErrDimension, opt.NumPoses)
	}
	src := rand.NewSource(opt.Seed)
	rng := rand.New(src)
	nxy := distuv.Normal{Mu: 0, Sigma: opt.SigmaXY, Src: src}
	nth := distuv.Normal{Mu: 0, Sigma: opt.SigmaTheta, Src: src}
	u01 := distuv.Uniform{Min: 0, Max: 1, Src: src}
	noisy := func(p Pose2) Pose2 {
		return Pose2{X: p.X + nxy.Rand(), Y: p.Y + nxy.Rand(), Theta: WrapAngle(p.Theta + nth.Rand())}
	}
	cov := Diag(SQ(opt.SigmaXY), SQ(opt.SigmaXY), SQ(opt.SigmaTheta))

	// Ground truth
	truth := make([]Pose2, opt.NumPoses)
	for i := 1; i < opt.NumPoses; i++ {
		d := Pose2{X: opt.Step}
		if opt.TurnEvery > 0 && i%opt.TurnEvery == 0 {
			d.Theta = PI / 2
		}
		truth[i] = truth[i-1].Compose(d)
	}

	g := NewGraph()
	est := truth[0]
	odo := make([]Pose2, opt.NumPoses)
	for i := 1; i < opt.NumPoses; i++ {
		odo[i] = noisy(truth[i-1].Between(truth[i]))
	}
	for i := 0; i < opt.NumPoses; i++ {
		if i > 0 {
			est = est.Compose(odo[i])
		}
		v := NewPose2(est)
		if err := v.SetTruth(truth[i].Slice()); err != nil {
			return nil, err
		}
		g.AddVariable(v)
	}

	add := func(f Factor, err error) error {
		if err != nil {
			return err
		}
		return g.AddFactor(f)
	}
	if err := add(NewPose2Prior(0, truth[0], cov)); err != nil {
		return nil, err
	}
	for i := 1; i < opt.NumPoses; i++ {
		if err := add(NewPose2Relative(i-1, i, odo[i], cov)); err != nil {
			return nil, err
		}
	}

	closure := func(a, b int, z Pose2) error {
		if !opt.Robust {
			return add(NewPose2Relative(a, b, z, cov))
		}
		return add(newNullHypothesis(a, b, z, cov.At(0, 0), cov.At(2, 2), opt.NullWeight, opt.NullScale))
	}
	for i := 0; i < opt.NumPoses; i++ {
		for j := 0; j+opt.LoopGap <= i; j++ {
			dx, dy := truth[i].X-truth[j].X, truth[i].Y-truth[j].Y
			if math.Hypot(dx, dy) > opt.LoopRadius || u01.Rand() >= opt.LoopProb {
				continue
			}
			if err := closure(j, i, noisy(truth[j].Between(truth[i]))); err != nil {
				return nil, err
			}
		}
	}

	for k := 0; k < opt.NumOutliers; k++ {
		a, b := rng.Intn(opt.NumPoses), rng.Intn(opt.NumPoses)
		if a == b {
			continue
		}
		z := Pose2{
			X:     (u01.Rand() - 0.5) * 10 * opt.Step,
			Y:     (u01.Rand() - 0.5) * 10 * opt.Step,
			Theta: (u01.Rand()*2 - 1) * PI,
		}
		if err := closure(a, b, z); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Loop closure with a weak alternative that explains it as an outlier
func newNullHypothesis(a, b int, z Pose2, varXY, varTheta, nullWeight, nullScale float64) (*MixtureFactor, error) {
	good, err := NewPose2Relative(a, b, z, Diag(varXY, varXY, varTheta))
	if err != nil {
		return nil, err
	}
	null, err := NewPose2Relative(a, b, z, Diag(varXY*nullScale, varXY*nullScale, varTheta*nullScale))
	if err != nil {
		return nil, err
	}
	return NewMixtureFactor([]Factor{good, null}, []float64{1 - nullWeight, nullWeight})
}
