package pool

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lesleslie/mahavishnu/kernel/worker"
)

// TestScaleKeepsCurrentSizeWithinBoundsProperty verifies the quantified
// invariant: for any pool p, at every observable instant,
// p.min_workers <= p.current_size <= p.max_workers.
func TestScaleKeepsCurrentSizeWithinBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("current size stays within [min, max] after any sequence of scale targets", prop.ForAll(
		func(minW, maxW int, targets []int) bool {
			if maxW < minW {
				minW, maxW = maxW, minW
			}
			wm := worker.NewManager(nil, nil)
			m := NewManager(wm, nil, nil)
			p, err := m.CreatePool(context.Background(), testConfig(minW, maxW))
			if err != nil {
				return false
			}
			if p.CurrentSize() < minW || p.CurrentSize() > maxW {
				return false
			}
			for _, target := range targets {
				size, err := m.Scale(context.Background(), p, target)
				if err != nil {
					return false
				}
				if size != p.CurrentSize() {
					return false
				}
				if p.CurrentSize() < minW || p.CurrentSize() > maxW {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.SliceOfN(6, gen.IntRange(-3, 10)),
	))

	properties.TestingRun(t)
}

// TestHealthUnhealthyWhenEmptyProperty pins a boundary case directly:
// a pool with zero workers is always unhealthy regardless of configured
// bounds, since no worker is available to service a task.
func TestHealthUnhealthyWhenEmptyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("zero workers is always unhealthy", prop.ForAll(
		func(minW, maxW int) bool {
			if maxW < minW {
				minW, maxW = maxW, minW
			}
			p := newPool(ID("p"), testConfig(minW, maxW))
			return p.Health() == HealthUnhealthy
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
