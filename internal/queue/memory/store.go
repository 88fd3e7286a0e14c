package memory

import "container/heap"

type fifo[T any] struct {
	buf  []entry[T]
	head int
}

func (f *fifo[T]) push(e entry[T]) {
	f.buf = append(f.buf, e)
}

func (f *fifo[T]) pop() entry[T] {
	e := f.buf[f.head]
	var zero entry[T]
	f.buf[f.head] = zero
	f.head++
	if f.head == len(f.buf) {
		f.buf = f.buf[:0]
		f.head = 0
	}
	return e
}

func (f *fifo[T]) len() int {
	return len(f.buf) - f.head
}

type priorityHeap[T any] struct {
	h entryHeap[T]
}

func (p *priorityHeap[T]) push(e entry[T]) { heap.Push(&p.h, e) }
func (p *priorityHeap[T]) pop() entry[T]   { return heap.Pop(&p.h).(entry[T]) }
func (p *priorityHeap[T]) len() int        { return p.h.Len() }

type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[T]) Push(x any) { *h = append(*h, x.(entry[T])) }

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*h = old[:n-1]
	return e
}
