package vindex

import "container/heap"

// minHeap orders candidates by ascending distance; used as HNSW's
// exploration frontier (pop the closest unexplored candidate next).
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *minHeap) init()              { heap.Init(h) }
func (h *minHeap) push(c candidate)   { heap.Push(h, c) }
func (h *minHeap) pop() candidate     { return heap.Pop(h).(candidate) }

// maxHeap orders candidates by descending distance; used as HNSW's
// bounded result set (the worst kept candidate sits at the top so it
// can be evicted in O(log n) when a closer one is found).
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *maxHeap) init()            { heap.Init(h) }
func (h *maxHeap) push(c candidate) { heap.Push(h, c) }
func (h *maxHeap) pop() candidate   { return heap.Pop(h).(candidate) }
