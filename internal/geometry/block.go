package geometry

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Byte strides of the packed channels.
const (
	PositionStride = 12 // 3 x float32
	NormalStride   = 12 // 3 x float32
	UVStride       = 8  // 2 x float32
	IndexStride    = 4  // uint32
)

// Region locates one channel inside a Block's Data.
type Region struct {
	Offset uint64 `json:"offset"`
	Length int32  `json:"length"`
}

// Empty reports whether the channel is absent.
func (r Region) Empty() bool {
	return r.Length == 0
}

// End returns the offset one past the region.
func (r Region) End() uint64 {
	return r.Offset + uint64(r.Length)
}

// Block is one decoded frame packed into a single buffer. Regions follow
// the fixed order vertices, normals, indices, uvs, texture with no gaps.
// Data belongs to the stream and is only valid until the next ReadFrame on
// the same handle; copy out anything that must outlive it.
type Block struct {
	Frame    int    `json:"frame"`
	Data     []byte `json:"-"`
	Vertices Region `json:"vertices"`
	Normals  Region `json:"normals"`
	Indices  Region `json:"indices"`
	UVs      Region `json:"uvs"`
	Texture  Region `json:"texture"`
}

func emptyBlock() Block {
	return Block{Frame: -1}
}

// Regions returns the five regions in layout order.
func (b Block) Regions() [5]Region {
	return [5]Region{b.Vertices, b.Normals, b.Indices, b.UVs, b.Texture}
}

// Slice returns the bytes of r, or nil when r does not lie inside Data.
func (b Block) Slice(r Region) []byte {
	if r.Length < 0 || r.End() > uint64(len(b.Data)) {
		return nil
	}
	return b.Data[r.Offset:r.End()]
}

func (b Block) VertexBytes() []byte  { return b.Slice(b.Vertices) }
func (b Block) NormalBytes() []byte  { return b.Slice(b.Normals) }
func (b Block) IndexBytes() []byte   { return b.Slice(b.Indices) }
func (b Block) UVBytes() []byte      { return b.Slice(b.UVs) }
func (b Block) TextureBytes() []byte { return b.Slice(b.Texture) }

// VertexCount returns the number of vertices in the block.
func (b Block) VertexCount() int {
	return int(b.Vertices.Length) / PositionStride
}

// IndexCount returns the number of triangle indices in the block.
func (b Block) IndexCount() int {
	return int(b.Indices.Length) / IndexStride
}

// Position returns vertex i.
func (b Block) Position(i int) [3]float32 {
	v := b.VertexBytes()[i*PositionStride:]
	return [3]float32{readFloat(v[0:]), readFloat(v[4:]), readFloat(v[8:])}
}

// Index returns triangle index i.
func (b Block) Index(i int) uint32 {
	return binary.LittleEndian.Uint32(b.IndexBytes()[i*IndexStride:])
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (b Block) Bounds() (min, max [3]float32, ok bool) {
	n := b.VertexCount()
	if n == 0 {
		return min, max, false
	}
	min, max = b.Position(0), b.Position(0)
	for i := 1; i < n; i++ {
		p := b.Position(i)
		for axis := 0; axis < 3; axis++ {
			min[axis] = float32(math.Min(float64(min[axis]), float64(p[axis])))
			max[axis] = float32(math.Max(float64(max[axis]), float64(p[axis])))
		}
	}
	return min, max, true
}

// Validate checks the layout: regions contiguous, in order, and inside Data.
func (b Block) Validate() error {
	var next uint64
	for i, r := range b.Regions() {
		if r.Length < 0 {
			return fmt.Errorf("region %d has negative length %d", i, r.Length)
		}
		if r.Offset != next {
			return fmt.Errorf("region %d starts at %d, want %d", i, r.Offset, next)
		}
		next = r.End()
	}
	if next != uint64(len(b.Data)) {
		return fmt.Errorf("regions cover %d bytes of %d", next, len(b.Data))
	}
	return nil
}

func readFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
