package lumen

// Heap is a process heap measured in words.
type Heap []Term

// Words returns the heap capacity.
func (h Heap) Words() int { return cap(h) }

// MinHeapSize is the smallest heap handed to a process.
const MinHeapSize = 233

// MaxHeapWords is the largest heap any allocator hands out, whatever its own
// limit.
const MaxHeapWords = 1 << 28

// heap sizes grow along a Fibonacci ladder up to this size, then by 20%
const heapLadderLimit = 1 << 20

// NextHeapSize rounds words up to the next size on the heap-size ladder.
// The ladder is capped at MaxHeapWords; larger requests are returned unchanged
// since no allocator can satisfy them.
func NextHeapSize(words int) int {
	if words > MaxHeapWords {
		return words
	}
	a, b := MinHeapSize, 377
	for a < words {
		if a < heapLadderLimit {
			a, b = b, a+b
		} else {
			a += a / 5
		}
	}
	return min(a, MaxHeapWords)
}

// HeapAllocator is the default Allocator. Max bounds a single heap; zero, or
// anything above MaxHeapWords, means MaxHeapWords.
type HeapAllocator struct {
	Max int
}

func (h HeapAllocator) Allocate(words int) (Heap, error) {
	limit := h.Max
	if limit <= 0 || limit > MaxHeapWords {
		limit = MaxHeapWords
	}
	if words < 0 || words > limit {
		return nil, &AllocError{Words: words, Limit: limit}
	}
	return make(Heap, 0, words), nil
}
