package spatial

import (
	"container/heap"
	"sort"
)

// Point is a (latitude, longitude) pair treated as planar coordinates.
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) coord(axis int) float64 {
	if axis == 0 {
		return p.Lat
	}
	return p.Lng
}

func dist2(a, b Point) float64 {
	dLat := a.Lat - b.Lat
	dLng := a.Lng - b.Lng
	return dLat*dLat + dLng*dLng
}

// kdNode indexes into the tree's point slice. Axis 0 splits on latitude,
// axis 1 on longitude.
type kdNode struct {
	idx   int
	axis  int
	left  *kdNode
	right *kdNode
}

type kdTree struct {
	points []Point
	root   *kdNode
}

func buildTree(points []Point) *kdTree {
	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	t := &kdTree{points: points}
	t.root = t.build(idx, 0)
	return t
}

func (t *kdTree) build(idx []int, depth int) *kdNode {
	if len(idx) == 0 {
		return nil
	}
	axis := depth % 2
	mid := len(idx) / 2
	t.selectNth(idx, mid, axis)
	n := &kdNode{idx: idx[mid], axis: axis}
	n.left = t.build(idx[:mid], depth+1)
	n.right = t.build(idx[mid+1:], depth+1)
	return n
}

// selectNth partially orders idx in place so that idx[n] holds the element
// that would be there if idx were sorted on axis.
func (t *kdTree) selectNth(idx []int, n, axis int) {
	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := t.partition(idx, lo, hi, (lo+hi)/2, axis)
		switch {
		case p == n:
			return
		case n < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

func (t *kdTree) partition(idx []int, lo, hi, pivot, axis int) int {
	pv := t.points[idx[pivot]].coord(axis)
	idx[pivot], idx[hi] = idx[hi], idx[pivot]
	store := lo
	for i := lo; i < hi; i++ {
		if t.points[idx[i]].coord(axis) < pv {
			idx[store], idx[i] = idx[i], idx[store]
			store++
		}
	}
	idx[store], idx[hi] = idx[hi], idx[store]
	return store
}

type neighbor struct {
	idx int
	d2  float64
}

// worse reports whether a ranks after b: farther, or equally far with a later index.
func worse(a, b neighbor) bool {
	if a.d2 != b.d2 {
		return a.d2 > b.d2
	}
	return a.idx > b.idx
}

// neighborHeap is a max-heap on rank, so the current worst candidate is on top.
type neighborHeap []neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// nearest returns up to k neighbors of q strictly closer than sqrt(bound2),
// ordered nearest first. Equal distances keep index order.
func (t *kdTree) nearest(q Point, k int, bound2 float64) []neighbor {
	if t.root == nil || k <= 0 {
		return nil
	}
	h := make(neighborHeap, 0, k)

	var visit func(n *kdNode)
	visit = func(n *kdNode) {
		if n == nil {
			return
		}
		cand := neighbor{idx: n.idx, d2: dist2(q, t.points[n.idx])}
		if cand.d2 < bound2 {
			if h.Len() < k {
				heap.Push(&h, cand)
			} else if worse(h[0], cand) {
				h[0] = cand
				heap.Fix(&h, 0)
			}
		}

		diff := q.coord(n.axis) - t.points[n.idx].coord(n.axis)
		near, far := n.left, n.right
		if diff > 0 {
			near, far = n.right, n.left
		}
		visit(near)

		plane := diff * diff
		if h.Len() < k {
			if plane < bound2 {
				visit(far)
			}
		} else if plane <= h[0].d2 {
			visit(far)
		}
	}
	visit(t.root)

	out := []neighbor(h)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}
