package workload

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"gcjrt/internal/gc"
	"gcjrt/internal/rt"
	"gcjrt/internal/trace"
)

// StressConfig sizes a stress run.
type StressConfig struct {
	Threads int
	Objects int
	// Timeout bounds the whole run; zero waits forever.
	Timeout time.Duration
}

// StressReport summarises a stress run.
type StressReport struct {
	Threads     int
	Objects     int
	Elapsed     time.Duration
	LiveBefore  uint64 // live bytes after the workers finished
	LiveAfter   uint64 // live bytes after the forced collection
	Collections uint64
	FreedBlocks uint64
	Finalized   uint64
	Counter     int64
}

// cellClasses are the classes a stress worker allocates.
type cellClasses struct {
	cell    *rt.Class
	next    *rt.Field
	value   *rt.Field
	payload *rt.Field
	counter *rt.Class
	count   *rt.Field
}

func defineCells(r *rt.Runtime) (*cellClasses, error) {
	intCls := mustPrim(r, 'I')
	intArr, err := r.FindArrayClass(intCls)
	if err != nil {
		return nil, err
	}
	cell, err := r.DefineClass(rt.ClassSpec{
		Name:  "stress.Cell",
		Super: r.ObjectClass(),
		Fields: []rt.FieldSpec{
			{Name: "next", Type: r.ObjectClass()},
			{Name: "value", Type: intCls},
			{Name: "payload", Type: intArr},
		},
	})
	if err != nil {
		return nil, err
	}
	counter, err := r.DefineClass(rt.ClassSpec{
		Name:   "stress.Counter",
		Super:  r.ObjectClass(),
		Fields: []rt.FieldSpec{{Name: "count", Type: intCls, Static: true}},
	})
	if err != nil {
		return nil, err
	}
	return &cellClasses{
		cell:    cell,
		next:    cell.FieldByName("next"),
		value:   cell.FieldByName("value"),
		payload: cell.FieldByName("payload"),
		counter: counter,
		count:   counter.FieldByName("count"),
	}, nil
}

// buildList allocates n cells linked through next, each carrying a small
// int array, and drops a garbage array every few cells. Only the head
// stays in th's frame.
func buildList(r *rt.Runtime, th *rt.Thread, cc *cellClasses, n int) gc.Address {
	intCls := mustPrim(r, 'I')
	mark := th.Frame()
	head := gc.Null
	for i := range n {
		cell := r.AllocObject(th, cc.cell)
		r.SetObjectField(th, cell, cc.next, head)
		r.SetField(th, cell, cc.value, uint64(i))
		payload := r.NewPrimArray(th, intCls, 4)
		r.SetElement(th, payload, 0, uint64(i))
		r.SetObjectField(th, cell, cc.payload, payload)
		if i%8 == 7 {
			r.NewPrimArray(th, intCls, 32)
		}
		head = cell
		th.PopFrame(mark, head)
	}
	return head
}

// listLength walks next pointers and checks each cell's value.
func listLength(r *rt.Runtime, th *rt.Thread, cc *cellClasses, head gc.Address) (int, error) {
	n := 0
	for cell := head; cell != gc.Null; cell = r.GetObjectField(th, cell, cc.next) {
		n++
		v := int32(uint32(r.GetField(th, cell, cc.value)))
		payload := r.GetObjectField(th, cell, cc.payload)
		if got := int32(uint32(r.GetElement(th, payload, 0))); got != v {
			return n, fmt.Errorf("cell %d payload %d", v, got)
		}
	}
	return n, nil
}

// Stress starts cfg.Threads managed threads that each build and verify a
// list of cfg.Objects cells, then forces a collection. Worker failures
// are returned as errors.
func Stress(ctx context.Context, r *rt.Runtime, main *rt.Thread, cfg StressConfig) (StressReport, error) {
	if cfg.Threads <= 0 || cfg.Objects < 0 {
		return StressReport{}, fmt.Errorf("invalid stress size: %d threads, %d objects", cfg.Threads, cfg.Objects)
	}
	cc, err := defineCells(r)
	if err != nil {
		return StressReport{}, err
	}
	runtimeExc, err := r.FindClass("java.lang.RuntimeException")
	if err != nil {
		return StressReport{}, err
	}
	lock := r.AllocObject(main, r.ObjectClass())

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeRuntime, "stress", 0)
	defer func() { span.End(fmt.Sprintf("%d threads", cfg.Threads)) }()
	start := time.Now()
	workers := make([]*rt.Thread, cfg.Threads)
	for i := range workers {
		workers[i] = r.NewThread(main, "stress-"+strconv.Itoa(i), func(self *rt.Thread) {
			head := buildList(r, self, cc, cfg.Objects)
			n, err := listLength(r, self, cc, head)
			if err == nil && n != cfg.Objects {
				err = fmt.Errorf("list has %d cells, want %d", n, cfg.Objects)
			}
			if err != nil {
				r.ThrowNew(self, runtimeExc, err.Error())
			}
			r.Synchronized(self, lock, func() {
				v := r.GetField(self, gc.Null, cc.count)
				r.SetField(self, gc.Null, cc.count, v+uint64(n))
			})
		})
		r.Start(main, workers[i])
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			select {
			case <-w.Done():
			case <-gctx.Done():
				return fmt.Errorf("%s: %w", w.Name(), gctx.Err())
			}
			if exc := w.Uncaught(); exc != gc.Null {
				return fmt.Errorf("%s: %s", w.Name(), r.Describe(exc))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StressReport{}, err
	}
	for _, w := range workers {
		r.Join(main, w, 0, 0)
	}

	report := StressReport{
		Threads:    cfg.Threads,
		Objects:    cfg.Objects,
		LiveBefore: r.Heap().HeapSize(),
		Counter:    int64(int32(uint32(r.GetField(main, gc.Null, cc.count)))),
	}
	r.Collect()
	st := r.Heap().Stats()
	report.Elapsed = time.Since(start)
	report.LiveAfter = st.LiveBytes
	report.Collections = st.Collections
	report.FreedBlocks = st.FreedBlocks
	report.Finalized = st.Finalized
	return report, nil
}
