package workload

import (
	"strconv"

	"gcjrt/internal/gc"
	"gcjrt/internal/rt"
)

// PopulateHeap fills r with a binary tree of n labelled nodes rooted on
// main, a few arrays of them, and an equal amount of garbage that the
// final collection reclaims. It returns the tree root.
func PopulateHeap(r *rt.Runtime, main *rt.Thread, n int) (gc.Address, error) {
	node, err := r.DefineClass(rt.ClassSpec{
		Name:  "dump.Node",
		Super: r.ObjectClass(),
		Fields: []rt.FieldSpec{
			{Name: "left", Type: r.ObjectClass()},
			{Name: "right", Type: r.ObjectClass()},
			{Name: "label", Type: r.ObjectClass()},
			{Name: "depth", Type: mustPrim(r, 'I')},
		},
	})
	if err != nil {
		return gc.Null, err
	}
	left, right := node.FieldByName("left"), node.FieldByName("right")
	label, depth := node.FieldByName("label"), node.FieldByName("depth")

	mark := main.Frame()
	nodes := make([]gc.Address, 0, n)
	for i := range n {
		obj := r.AllocObject(main, node)
		r.SetObjectField(main, obj, label, r.NewString(main, "node-"+strconv.Itoa(i)))
		if i > 0 {
			parent := nodes[(i-1)/2]
			f := left
			if i%2 == 0 {
				f = right
			}
			r.SetObjectField(main, parent, f, obj)
			r.SetField(main, obj, depth, r.GetField(main, parent, depth)+1)
		}
		nodes = append(nodes, obj)
		// garbage of the same shape
		r.AllocObject(main, node)
	}

	root := gc.Null
	if n > 0 {
		root = nodes[0]
		leaves := r.NewObjectArray(main, int32(min(n, 16)), node, gc.Null)
		for i := range r.ArrayLength(main, leaves) {
			r.SetObjectElement(main, leaves, i, nodes[n-1-int(i)])
		}
		holder := r.NewObjectArray(main, 2, r.ObjectClass(), gc.Null)
		r.SetObjectElement(main, holder, 0, root)
		r.SetObjectElement(main, holder, 1, leaves)
		r.Synchronized(main, root, func() {})
		main.PopFrame(mark, holder)
	} else {
		main.PopFrame(mark)
	}
	r.Collect()
	return root, nil
}

func mustPrim(r *rt.Runtime, sig byte) *rt.Class {
	c, ok := r.PrimClass(sig)
	if !ok {
		r.Abort(rt.FatalBootstrap, "missing primitive class "+string(sig))
	}
	return c
}
