//go:build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties checks that a burst collapses into one batch
// holding each path once, in sorted order.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("bursts collapse to one event per path", prop.ForAll(
		func(indices []int) bool {
			if len(indices) == 0 {
				return true
			}

			d := NewDebouncer(20 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go d.start(ctx)

			distinct := make(map[string]bool)
			for _, i := range indices {
				path := fmt.Sprintf("file-%d.js", i)
				distinct[path] = true
				d.Add(ctx, ChangeEvent{Path: path})
			}

			select {
			case events := <-d.Output():
				if len(events) != len(distinct) {
					return false
				}
				for i := 1; i < len(events); i++ {
					if events[i-1].Path >= events[i].Path {
						return false
					}
				}
				return true
			case <-time.After(2 * time.Second):
				return false
			}
		},
		gen.SliceOfN(20, gen.IntRange(0, 9)),
	))

	properties.Property("filters are stable for any path", prop.ForAll(
		func(segment string) bool {
			path := "src/" + segment + "/index.js"
			return NoNodeModulesFilter(path) == (segment != "node_modules")
		},
		gen.OneConstOf("node_modules", "components", "lib", "node_modules_x"),
	))

	properties.TestingRun(t)
}
