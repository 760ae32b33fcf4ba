package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCapacityPageRounded(t *testing.T) {
	b, err := New[complex64](8192, false)
	require.NoError(t, err)
	defer b.Close()

	assert.GreaterOrEqual(t, b.Cap(), 8192)
	assert.Equal(t, b.Cap(), b.Space())
	assert.Equal(t, 0, b.Available())
}

func TestZeroCapacity(t *testing.T) {
	_, err := New[float32](0, false)
	assert.ErrorIs(t, err, ErrZeroCapacity)
}

func TestWriteReadRoundTrip(t *testing.T) {
	b, err := New[float32](1024, false)
	require.NoError(t, err)
	defer b.Close()

	in := make([]float32, 300)
	for i := range in {
		in[i] = float32(i)
	}
	assert.Equal(t, 300, b.Write(in))
	assert.Equal(t, 300, b.Available())

	out := make([]float32, 300)
	assert.Equal(t, 300, b.Read(out))
	assert.Equal(t, in, out)
	assert.Equal(t, 0, b.Available())
}

// Writing across the end of the mapping must still peek contiguously.
func TestPeekContiguousAcrossWrap(t *testing.T) {
	b, err := New[byte](4096, false)
	require.NoError(t, err)
	defer b.Close()
	capacity := b.Cap()

	for k := 1; k < capacity; k += 997 {
		b.Flush()
		// park the cursors k items before the wrap point
		pad := make([]byte, capacity-k)
		require.Equal(t, len(pad), b.Write(pad))
		require.Equal(t, len(pad), b.Purge(len(pad)))

		in := make([]byte, capacity)
		for i := range in {
			in[i] = byte(i * 31)
		}
		require.Equal(t, capacity, b.Write(in))

		p := b.Peek()
		require.Len(t, p, capacity)
		assert.Equal(t, in, append([]byte(nil), p...))
		// peek must not advance the cursor
		assert.Equal(t, capacity, b.Available())
	}
}

func TestOverwriteKeepsNewest(t *testing.T) {
	b, err := New[int32](1024, true)
	require.NoError(t, err)
	defer b.Close()
	capacity := b.Cap()

	total := capacity + 500
	in := make([]int32, total)
	for i := range in {
		in[i] = int32(i)
	}
	assert.Equal(t, total, b.Write(in))
	assert.Equal(t, capacity, b.Available())

	p := b.Peek()
	require.Len(t, p, capacity)
	assert.Equal(t, int32(total-capacity), p[0])
	assert.Equal(t, int32(total-1), p[capacity-1])
}

// Model-based property: any interleaving of write/read/purge/peek keeps
// data+space == capacity, and reads return exactly what a reference FIFO
// queue would.
func TestFIFOModel(t *testing.T) {
	b, err := New[uint16](2048, false)
	require.NoError(t, err)
	defer b.Close()
	capacity := b.Cap()

	rapid.Check(t, func(t *rapid.T) {
		b.Flush()
		var model []uint16
		next := uint16(0)

		t.Repeat(map[string]func(*rapid.T){
			"write": func(t *rapid.T) {
				n := rapid.IntRange(0, 3000).Draw(t, "n")
				in := make([]uint16, n)
				for i := range in {
					in[i] = next
					next++
				}
				w := b.Write(in)
				want := n
				if free := capacity - len(model); want > free {
					want = free
				}
				if w != want {
					t.Fatalf("write stored %d, want %d", w, want)
				}
				model = append(model, in[:w]...)
			},
			"read": func(t *rapid.T) {
				n := rapid.IntRange(0, 3000).Draw(t, "n")
				out := make([]uint16, n)
				r := b.Read(out)
				want := n
				if want > len(model) {
					want = len(model)
				}
				if r != want {
					t.Fatalf("read returned %d, want %d", r, want)
				}
				for i := 0; i < r; i++ {
					if out[i] != model[i] {
						t.Fatalf("read[%d] = %d, want %d", i, out[i], model[i])
					}
				}
				model = model[r:]
			},
			"purge": func(t *rapid.T) {
				n := rapid.IntRange(0, 3000).Draw(t, "n")
				p := b.Purge(n)
				want := n
				if want > len(model) {
					want = len(model)
				}
				if p != want {
					t.Fatalf("purge dropped %d, want %d", p, want)
				}
				model = model[p:]
			},
			"peek": func(t *rapid.T) {
				p := b.Peek()
				if len(p) != len(model) {
					t.Fatalf("peek len %d, want %d", len(p), len(model))
				}
				for i := range p {
					if p[i] != model[i] {
						t.Fatalf("peek[%d] = %d, want %d", i, p[i], model[i])
					}
				}
			},
			"": func(t *rapid.T) {
				if b.Available() != len(model) {
					t.Fatalf("available %d, want %d", b.Available(), len(model))
				}
				if b.Available()+b.Space() != capacity {
					t.Fatalf("available+space = %d, want %d",
						b.Available()+b.Space(), capacity)
				}
			},
		})
	})
}
