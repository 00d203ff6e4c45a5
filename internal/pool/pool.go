// Package pool provides bucketed sync.Pool instances for the sample and
// coefficient blocks allocated in the prediction, transform and search hot
// paths. Buffers are organized by size class to minimize waste.
package pool

import "sync"

// Size classes in elements. The smallest class holds a 16x16 block, the
// largest a 128x128 block, which covers every CTU size.
const (
	Size16x16   = 256
	Size32x32   = 1024
	Size64x64   = 4096
	Size128x128 = 16384
)

var sizes = [4]int{Size16x16, Size32x32, Size64x64, Size128x128}

// bucketIndex returns the pool index for a given length.
func bucketIndex(n int) int {
	switch {
	case n <= Size16x16:
		return 0
	case n <= Size32x32:
		return 1
	case n <= Size64x64:
		return 2
	default:
		return 3
	}
}

// buckets is one pool per size class for element type T.
type buckets[T any] struct {
	pools [len(sizes)]sync.Pool
}

func newBuckets[T any]() *buckets[T] {
	b := &buckets[T]{}
	for i := range b.pools {
		sz := sizes[i]
		b.pools[i].New = func() any {
			s := make([]T, sz)
			return &s
		}
	}
	return b
}

func (b *buckets[T]) get(n int) []T {
	sp := b.pools[bucketIndex(n)].Get().(*[]T)
	s := *sp
	if cap(s) < n {
		s = make([]T, n)
		*sp = s
		return s
	}
	s = s[:n]
	clear(s)
	return s
}

func (b *buckets[T]) put(s []T) {
	c := cap(s)
	if c < Size16x16 {
		return
	}
	s = s[:c]
	b.pools[bucketIndex(c)].Put(&s)
}

var (
	samples = newBuckets[int16]()
	coeffs  = newBuckets[int32]()
)

// GetInt16 returns a zeroed sample buffer of length n. The caller must call
// PutInt16 when done.
func GetInt16(n int) []int16 { return samples.get(n) }

// PutInt16 returns a buffer obtained from GetInt16.
func PutInt16(s []int16) { samples.put(s) }

// GetInt32 returns a zeroed coefficient buffer of length n. The caller must
// call PutInt32 when done.
func GetInt32(n int) []int32 { return coeffs.get(n) }

// PutInt32 returns a buffer obtained from GetInt32.
func PutInt32(s []int32) { coeffs.put(s) }
