// Package ring implements a bounded FIFO whose backing store is mapped
// twice into adjacent virtual addresses, so any readable suffix can be
// handed out as one contiguous slice regardless of wrap.
package ring

import (
	"errors"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	ErrZeroCapacity = errors.New("ring: capacity is 0")
	ErrSizeOverflow = errors.New("ring: buffer size overflow")
)

type Buffer[T any] struct {
	mu sync.Mutex

	mem  []T  // doubled view, 2*capacity items
	size uint // mapping size in bytes
	fd   int

	itemSize uint
	capacity uint // items per mapping

	r, w uint // byte cursors, monotonic modulo renormalization

	overwrite bool
}

// New maps a buffer of at least capacity items, rounded up to a page
// multiple. With overwrite set, writes beyond capacity advance the read
// cursor so the newest data is kept.
func New[T any](capacity int, overwrite bool) (*Buffer[T], error) {
	var zero T
	itemSize := uint(unsafe.Sizeof(zero))
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	if uint(capacity) > math.MaxInt/itemSize {
		return nil, ErrSizeOverflow
	}

	page := uint(unix.Getpagesize())
	raw := uint(capacity) * itemSize
	size := (raw + page - 1) &^ (page - 1)

	fd, err := unix.MemfdCreate("kal-ring", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Reserve the doubled range first so nothing else can land between
	// the two fixed mappings.
	base, err := unix.MmapPtr(-1, 0, nil, uintptr(2*size),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_FIXED
	if _, err := unix.MmapPtr(fd, 0, base, uintptr(size), prot, flags); err != nil {
		unix.MunmapPtr(base, uintptr(2*size))
		unix.Close(fd)
		return nil, err
	}
	second := unsafe.Add(base, size)
	if _, err := unix.MmapPtr(fd, 0, second, uintptr(size), prot, flags); err != nil {
		unix.MunmapPtr(base, uintptr(2*size))
		unix.Close(fd)
		return nil, err
	}

	capItems := size / itemSize
	return &Buffer[T]{
		mem:       unsafe.Slice((*T)(base), 2*capItems),
		size:      size,
		fd:        fd,
		itemSize:  itemSize,
		capacity:  capItems,
		overwrite: overwrite,
	}, nil
}

func (b *Buffer[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return nil
	}
	base := unsafe.Pointer(&b.mem[0])
	b.mem = nil
	err := unix.MunmapPtr(base, uintptr(2*b.size))
	if cerr := unix.Close(b.fd); err == nil {
		err = cerr
	}
	return err
}

// Cap returns the item capacity after page rounding.
func (b *Buffer[T]) Cap() int { return int(b.capacity) }

func (b *Buffer[T]) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int((b.w - b.r) / b.itemSize)
}

func (b *Buffer[T]) Space() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int((b.size - (b.w - b.r)) / b.itemSize)
}

func (b *Buffer[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r, b.w = 0, 0
}

// Write stores up to len(items) items and returns how many were stored.
// In overwrite mode all items are stored and the oldest data is dropped.
func (b *Buffer[T]) Write(items []T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := (b.size - (b.w - b.r)) / b.itemSize
	n := uint(len(items))
	if !b.overwrite && n > free {
		n = free
	}
	if n > 0 {
		// In overwrite mode only the last capacity items can survive;
		// anything before them would just be clobbered.
		copyN, srcOff := n, uint(0)
		if copyN > b.capacity {
			srcOff = copyN - b.capacity
			copyN = b.capacity
		}
		off := ((b.w + srcOff*b.itemSize) % b.size) / b.itemSize
		copy(b.mem[off:off+copyN], items[srcOff:srcOff+copyN])
		b.w += n * b.itemSize
	}
	if b.overwrite && b.w-b.r > b.size {
		b.r = b.w - b.size
	}
	b.renormalize()
	return int(n)
}

// Read copies out up to len(dst) items and advances the read cursor.
func (b *Buffer[T]) Read(dst []T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := (b.w - b.r) / b.itemSize
	if m := uint(len(dst)); n > m {
		n = m
	}
	if n > 0 {
		off := (b.r % b.size) / b.itemSize
		copy(dst[:n], b.mem[off:off+n])
		b.r += n * b.itemSize
	}
	b.renormalize()
	return int(n)
}

// Peek returns every readable item as one contiguous slice without
// advancing the read cursor. The slice is valid only until the next
// Write, Read, Purge or Flush.
func (b *Buffer[T]) Peek() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := (b.w - b.r) / b.itemSize
	off := (b.r % b.size) / b.itemSize
	return b.mem[off : off+n]
}

// Purge advances the read cursor by up to n items without copying.
func (b *Buffer[T]) Purge(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := (b.w - b.r) / b.itemSize
	m := uint(n)
	if m > avail {
		m = avail
	}
	b.r += m * b.itemSize
	b.renormalize()
	return int(m)
}

func (b *Buffer[T]) renormalize() {
	if b.r >= b.size && b.w >= b.size {
		b.r -= b.size
		b.w -= b.size
	}
}
