package dependency

import (
	"sort"
	"strings"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Order sorts seeds so every seed comes after the seeds it requires. Seeds
// with equal rank are sorted by ref. Requirements on seeds outside the set
// are ignored.
//
// If the seeds cannot be ordered, a permanent error listing the cycles is
// returned.
func Order(seeds []seed.Seed) ([]seed.Seed, error) {
	g := simple.NewDirectedGraph()
	ids := make(map[seed.Ref]int64, len(seeds))
	refs := make(map[int64]seed.Seed, len(seeds))
	for i, s := range seeds {
		id := int64(i)
		if _, ok := ids[s.Ref]; ok {
			return nil, failure.Permanentf("duplicate seed %s", s.Ref)
		}
		ids[s.Ref] = id
		refs[id] = s
		g.AddNode(simple.Node(id))
	}

	var cycles []string
	for _, s := range seeds {
		deps, err := s.Requires()
		if err != nil {
			return nil, errors.Wrapf(err, "seed %s", s.Ref)
		}
		for _, d := range deps {
			from, ok := ids[d]
			if !ok {
				continue
			}
			to := ids[s.Ref]
			if from == to {
				cycles = append(cycles, seed.PathString([]seed.Ref{s.Ref, s.Ref}))
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return refs[nodes[i].ID()].Ref.Less(refs[nodes[j].ID()].Ref)
		})
	})
	if uo, ok := err.(topo.Unorderable); ok {
		for _, component := range uo {
			path := make([]seed.Ref, len(component))
			for i, n := range component {
				path[i] = refs[n.ID()].Ref
			}
			seed.SortRefs(path)
			cycles = append(cycles, seed.PathString(path))
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "sort")
	}
	if len(cycles) > 0 {
		sort.Strings(cycles)
		return nil, failure.Permanentf("dependency cycles: %s", strings.Join(cycles, "; "))
	}

	out := make([]seed.Seed, len(sorted))
	for i, n := range sorted {
		out[i] = refs[n.ID()]
	}
	return out, nil
}
