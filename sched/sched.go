// Package sched implements the parallel execution scheduler of spec.md
// §4.C: a fixed-size worker pool exposing Map and MapWithDependencies.
// Both primitives, and in particular MapWithDependencies' ready-queue
// dispatch loop, are grounded on internal/batch/batch.go's
// scheduler.run: a channel-based work queue drained by a fixed number of
// errgroup workers, with gonum's directed graph used both for dependency
// bookkeeping and for cycle detection via graph/topo.
package sched

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/fbuildgo/fbuild/buildtrace"
	"github.com/fbuildgo/fbuild/ferr"
)

// Scheduler is a fixed-size worker pool. A Scheduler with Workers==1 runs
// one task at a time, which spec.md §4.C requires "to simplify logging"
// (console.Console relies on this to skip buffering when there is no
// concurrency to guard against): Map runs every task on the caller's
// goroutine, and MapWithDependencies runs its tasks one after another on
// a single helper goroutine per phase.
type Scheduler struct {
	Workers int
}

// New creates a Scheduler with the given worker count. workers <= 0 is
// treated as 1 (strictly synchronous).
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{Workers: workers}
}

// Map applies fn to each item in parallel, preserving input order in the
// returned slice, and propagates the first error raised after all
// in-flight tasks complete (spec.md §4.C item 1).
func Map[T any, R any](ctx context.Context, s *Scheduler, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if s.Workers <= 1 {
		for i, x := range items {
			ev := buildtrace.Event(fmt.Sprintf("%v", x), 0)
			r, err := fn(ctx, x)
			ev.Done()
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.Workers)
	for i, x := range items {
		i, x := i, x
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			ev := buildtrace.Event(fmt.Sprintf("%v", x), i)
			r, err := fn(gctx, x)
			ev.Done()
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// depNode is a transient task-graph node (spec.md §3 "in-memory task
// graph"), wrapping a user key so it can sit in a gonum graph.Directed.
type depNode[T comparable] struct {
	id  int64
	key T
}

func (n *depNode[T]) ID() int64 { return n.id }

// graphBuilder discovers the transitive closure of dependencies on
// demand: inputs not present in the initial list but produced by depfn
// are themselves fed through depfn (spec.md §4.C item 2).
type graphBuilder[T comparable] struct {
	mu     sync.Mutex
	g      *simple.DirectedGraph
	nodes  map[T]*depNode[T]
	nextID int64
}

func newGraphBuilder[T comparable]() *graphBuilder[T] {
	return &graphBuilder[T]{g: simple.NewDirectedGraph(), nodes: map[T]*depNode[T]{}}
}

func (b *graphBuilder[T]) node(x T) *depNode[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[x]
	if !ok {
		n = &depNode[T]{id: b.nextID, key: x}
		b.nextID++
		b.nodes[x] = n
		b.g.AddNode(n)
	}
	return n
}

func (b *graphBuilder[T]) edge(from, to *depNode[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.g.SetEdge(b.g.NewEdge(from, to))
}

// MapWithDependencies is the key scheduler algorithm (spec.md §4.C item
// 2). For each input x, depfn(x) is resolved first; workerfn(x) may not
// begin until workerfn has completed for every element of deps(x).
// Each depfn and workerfn invocation runs as its own task. Cycles are a
// fatal *ferr.CycleError naming the offending inputs.
//
// Phase one discovers the dependency graph breadth-first (bounded by
// s.Workers concurrent depfn calls per round) until no new inputs appear,
// then checks for cycles with topo.Sort — exactly the check
// internal/batch/batch.go performs, except a cycle here is fatal rather
// than broken for bootstrapping (see DESIGN.md's REDESIGN note). Phase
// two dispatches workerfn over the DAG with the same ready-queue
// discipline as batch.go's scheduler.run: a channel of ready nodes
// drained by a fixed worker pool, with newly-ready successors enqueued as
// each predecessor completes.
func MapWithDependencies[T comparable, R any](
	ctx context.Context,
	s *Scheduler,
	inputs []T,
	depfn func(context.Context, T) ([]T, error),
	workerfn func(context.Context, T) (R, error),
) (map[T]R, error) {
	b := newGraphBuilder[T]()

	frontier := append([]T{}, inputs...)
	seen := make(map[T]bool, len(inputs))
	depsOf := make(map[T][]T)
	var depsMu sync.Mutex

	for _, x := range frontier {
		b.node(x)
	}

	for len(frontier) > 0 {
		eg, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, s.Workers)
		var nextMu sync.Mutex
		var next []T

		for _, x := range frontier {
			if seen[x] {
				continue
			}
			seen[x] = true
			x := x
			eg.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-sem }()

				deps, err := depfn(gctx, x)
				if err != nil {
					return err
				}
				depsMu.Lock()
				depsOf[x] = deps
				depsMu.Unlock()

				nx := b.node(x)
				nextMu.Lock()
				for _, d := range deps {
					nd := b.node(d)
					b.edge(nx, nd)
					if !seen[d] {
						next = append(next, d)
					}
				}
				nextMu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}

	if _, err := topo.Sort(b.g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return nil, err
		}
		var names []string
		for _, component := range uo {
			for _, n := range component {
				names = append(names, fmt.Sprint(n.(*depNode[T]).key))
			}
		}
		return nil, &ferr.CycleError{Nodes: names}
	}

	return dispatch(ctx, s, b, workerfn)
}

func dispatch[T comparable, R any](
	ctx context.Context,
	s *Scheduler,
	b *graphBuilder[T],
	workerfn func(context.Context, T) (R, error),
) (map[T]R, error) {
	type outcome struct {
		n   *depNode[T]
		r   R
		err error
	}

	numNodes := len(b.nodes)
	results := make(map[T]R, numNodes)
	built := make(map[int64]bool, numNodes)
	enqueued := make(map[int64]bool, numNodes)

	eg, gctx := errgroup.WithContext(ctx)
	work := make(chan *depNode[T], numNodes)
	done := make(chan outcome, numNodes)

	var mu sync.Mutex

	// canBuild reads the built map, which the collector goroutine below
	// mutates concurrently with worker goroutines completing tasks; every
	// read and write of built goes through mu so the two never race.
	canBuild := func(n *depNode[T]) bool {
		mu.Lock()
		defer mu.Unlock()
		for it := b.g.From(n.ID()); it.Next(); {
			if !built[it.Node().ID()] {
				return false
			}
		}
		return true
	}

	enqueue := func(n *depNode[T]) {
		mu.Lock()
		defer mu.Unlock()
		if enqueued[n.ID()] {
			return
		}
		enqueued[n.ID()] = true
		work <- n
	}

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		tid := i
		eg.Go(func() error {
			for n := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				ev := buildtrace.Event(fmt.Sprintf("%v", n.key), tid)
				r, err := workerfn(gctx, n.key)
				ev.Done()
				select {
				case done <- outcome{n: n, r: r, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	for it := b.g.Nodes(); it.Next(); {
		n := it.Node().(*depNode[T])
		if canBuild(n) {
			enqueue(n)
		}
	}

	collector := make(chan error, 1)
	go func() {
		completed := 0
		for completed < numNodes {
			select {
			case o := <-done:
				completed++
				mu.Lock()
				if o.err == nil {
					built[o.n.ID()] = true
					results[o.n.key] = o.r
				}
				mu.Unlock()
				if o.err != nil {
					collector <- o.err
					close(work)
					return
				}
				for it := b.g.To(o.n.ID()); it.Next(); {
					cand := it.Node().(*depNode[T])
					if canBuild(cand) {
						enqueue(cand)
					}
				}
			case <-gctx.Done():
				collector <- gctx.Err()
				return
			}
		}
		close(work)
		collector <- nil
	}()

	egErr := eg.Wait()
	dispatchErr := <-collector
	if egErr != nil {
		return results, egErr
	}
	return results, dispatchErr
}
