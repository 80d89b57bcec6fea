// Package list is a doubly linked list whose elements live inside the
// records they link, so queueing a record never allocates. An element
// belongs to at most one list at a time; pushing an element that is
// already linked is a kernel panic.
package list

import (
	"tkernel/debug"
)

// Elem is one link. Value points back to the record that embeds it.
type Elem[T any] struct {
	prev, next *Elem[T]
	list       *List[T]
	Value      T
}

// Linked reports whether e currently belongs to a list.
func (e *Elem[T]) Linked() bool {
	return e.list != nil
}

// Next returns the following element, or nil at the end.
func (e *Elem[T]) Next() *Elem[T] {
	if e.list == nil || e.next == &e.list.tail {
		return nil
	}
	return e.next
}

// Less reports whether a sorts strictly before b, given auxiliary data aux.
type Less[T any] func(a, b T, aux any) bool

// List has head and tail sentinels; the zero value must be initialised
// with Init before use.
type List[T any] struct {
	head, tail Elem[T]
	size       int
}

// Init empties l.
func (l *List[T]) Init() {
	l.head.prev = nil
	l.head.next = &l.tail
	l.tail.prev = &l.head
	l.tail.next = nil
	l.size = 0
}

func (l *List[T]) lazyInit() {
	if l.head.next == nil {
		l.Init()
	}
}

// Empty reports whether l has no elements.
func (l *List[T]) Empty() bool {
	return l.size == 0
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return l.size
}

// Front returns the first element; l must not be empty.
func (l *List[T]) Front() *Elem[T] {
	debug.Assert(!l.Empty(), "!list_empty (list)")
	return l.head.next
}

// Back returns the last element; l must not be empty.
func (l *List[T]) Back() *Elem[T] {
	debug.Assert(!l.Empty(), "!list_empty (list)")
	return l.tail.prev
}

// insert places e just before before.
func (l *List[T]) insert(before, e *Elem[T]) {
	debug.Assert(e.list == nil, "element is already in a list")
	e.prev = before.prev
	e.next = before
	before.prev.next = e
	before.prev = e
	e.list = l
	l.size++
}

// PushFront inserts e at the beginning of l.
func (l *List[T]) PushFront(e *Elem[T]) {
	l.lazyInit()
	l.insert(l.head.next, e)
}

// PushBack inserts e at the end of l.
func (l *List[T]) PushBack(e *Elem[T]) {
	l.lazyInit()
	l.insert(&l.tail, e)
}

// Remove unlinks e from l and returns it.
func (l *List[T]) Remove(e *Elem[T]) *Elem[T] {
	debug.Assert(e.list == l, "element belongs to this list")
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next, e.list = nil, nil, nil
	l.size--
	return e
}

// PopFront removes and returns the first element; l must not be empty.
func (l *List[T]) PopFront() *Elem[T] {
	return l.Remove(l.Front())
}

// PopBack removes and returns the last element; l must not be empty.
func (l *List[T]) PopBack() *Elem[T] {
	return l.Remove(l.Back())
}

// InsertOrdered inserts e before the first element that e sorts strictly
// before, so elements comparing equal keep their arrival order.
func (l *List[T]) InsertOrdered(e *Elem[T], less Less[T], aux any) {
	l.lazyInit()
	at := l.head.next
	for ; at != &l.tail; at = at.next {
		if less(e.Value, at.Value, aux) {
			break
		}
	}
	l.insert(at, e)
}

// Sort orders l with a stable merge sort.
func (l *List[T]) Sort(less Less[T], aux any) {
	if l.size < 2 {
		return
	}
	elems := make([]*Elem[T], 0, l.size)
	for e := l.head.next; e != &l.tail; e = e.next {
		elems = append(elems, e)
	}
	tmp := make([]*Elem[T], len(elems))
	mergeSort(elems, tmp, less, aux)

	l.Init()
	for _, e := range elems {
		e.list = nil
		l.insert(&l.tail, e)
	}
}

func mergeSort[T any](a, tmp []*Elem[T], less Less[T], aux any) {
	if len(a) < 2 {
		return
	}
	mid := len(a) / 2
	mergeSort(a[:mid], tmp[:mid], less, aux)
	mergeSort(a[mid:], tmp[mid:], less, aux)

	i, j, k := 0, mid, 0
	for i < mid && j < len(a) {
		// take from the right run only when strictly smaller: stable
		if less(a[j].Value, a[i].Value, aux) {
			tmp[k] = a[j]
			j++
		} else {
			tmp[k] = a[i]
			i++
		}
		k++
	}
	k += copy(tmp[k:], a[i:mid])
	copy(tmp[k:], a[j:])
	copy(a, tmp[:len(a)])
}

// Max returns the element with the largest value (the first of equals);
// l must not be empty.
func (l *List[T]) Max(less Less[T], aux any) *Elem[T] {
	max := l.Front()
	for e := max.next; e != &l.tail; e = e.next {
		if less(max.Value, e.Value, aux) {
			max = e
		}
	}
	return max
}

// Min returns the element with the smallest value (the first of equals);
// l must not be empty.
func (l *List[T]) Min(less Less[T], aux any) *Elem[T] {
	min := l.Front()
	for e := min.next; e != &l.tail; e = e.next {
		if less(e.Value, min.Value, aux) {
			min = e
		}
	}
	return min
}

// Each calls fn for every value front to back, stopping when fn returns false.
func (l *List[T]) Each(fn func(T) bool) {
	if l.size == 0 {
		return
	}
	for e := l.head.next; e != &l.tail; e = e.next {
		if !fn(e.Value) {
			return
		}
	}
}
