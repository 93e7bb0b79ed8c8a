package joints

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
)

// consensusCenter runs the seeded sample-consensus loop around the linear
// center fit: fit minimal subsets, score every masked sample, keep the
// candidate with the largest inlier set, then refit on that set.
func consensusCenter(prox, dist *imu.Stream, proxWD, distWD []r3.Vector, rel []orientation.Quaternion, idx []int, opts CenterOptions) (*CenterEstimate, error) {
	subset := opts.Consensus.SubsetSize
	if subset > len(idx) {
		subset = len(idx)
	}
	if 3*subset < 6 {
		return nil, &InsufficientMotionError{
			Estimator: "center", Needed: 2, Got: subset,
			Detail: "subset too small to determine a center pair",
		}
	}

	rng := rand.New(rand.NewSource(opts.Consensus.Seed))

	var (
		bestCount  = -1
		bestInlier []int
	)
	for trial := 0; trial < opts.Consensus.Trials; trial++ {
		perm := rng.Perm(len(idx))
		pick := make([]int, subset)
		for j := 0; j < subset; j++ {
			pick[j] = idx[perm[j]]
		}

		cand, err := linearFit(prox, dist, proxWD, distWD, rel, pick)
		if err != nil {
			continue // singular subset; draw another
		}

		var inlier []int
		for _, i := range idx {
			if linearResidual(prox, dist, proxWD, distWD, rel, cand, i) < opts.Consensus.InlierThreshold {
				inlier = append(inlier, i)
			}
		}
		if len(inlier) > bestCount {
			bestCount = len(inlier)
			bestInlier = inlier
		}
	}

	if bestCount < opts.MinSamples {
		return nil, &InsufficientMotionError{
			Estimator: "center",
			Needed:    opts.MinSamples,
			Got:       bestCount,
			Detail:    fmt.Sprintf("largest consensus set after %d trials", opts.Consensus.Trials),
		}
	}

	final, err := linearFit(prox, dist, proxWD, distWD, rel, bestInlier)
	if err != nil {
		return nil, fmt.Errorf("joints: center refit on %d inliers: %w", bestCount, err)
	}

	inliers := make([]bool, prox.Len())
	var ss float64
	for _, i := range bestInlier {
		inliers[i] = true
		r := linearResidual(prox, dist, proxWD, distWD, rel, final, i)
		ss += r * r
	}
	return &CenterEstimate{
		Prox:        r3.Vector{X: final[0], Y: final[1], Z: final[2]},
		Dist:        r3.Vector{X: final[3], Y: final[4], Z: final[5]},
		Residual:    math.Sqrt(ss / float64(bestCount)),
		Inliers:     inliers,
		InlierCount: bestCount,
	}, nil
}
