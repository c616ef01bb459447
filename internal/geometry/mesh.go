package geometry

import (
	"encoding/binary"
	"math"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// mesh is the working state a frame is rebuilt in. Channels are kept as
// raw little-endian bytes so deltas and packing are plain copies. Slices are
// truncated and refilled between frames so their capacity is reused.
type mesh struct {
	hasNormals bool
	textured   bool

	positions []byte
	normals   []byte
	uvs       []byte
	indices   []byte
	texture   []byte
}

func newMesh(h Header) *mesh {
	return &mesh{hasNormals: h.HasNormals, textured: h.Textured}
}

func (m *mesh) vertexCount() int {
	return len(m.positions) / PositionStride
}

func (m *mesh) indexCount() int {
	return len(m.indices) / IndexStride
}

func (m *mesh) reset() {
	m.positions = m.positions[:0]
	m.normals = m.normals[:0]
	m.uvs = m.uvs[:0]
	m.indices = m.indices[:0]
	m.texture = m.texture[:0]
}

// decodeKeyframe replaces the whole mesh with a keyframe body.
func (m *mesh) decodeKeyframe(body []byte, frame int) error {
	m.reset()
	r := newByteReader(body)

	vertices := r.u32()
	m.positions = append(m.positions, r.span(vertices, PositionStride)...)
	if m.hasNormals {
		m.normals = append(m.normals, r.span(vertices, NormalStride)...)
	}
	indices := r.u32()
	m.indices = append(m.indices, r.span(indices, IndexStride)...)
	if m.textured {
		m.uvs = append(m.uvs, r.span(vertices, UVStride)...)
		texSize := r.u32()
		m.texture = append(m.texture, r.span(texSize, 1)...)
	}

	if r.err != nil {
		return apperrors.NewCorruptFrameError(frame, "keyframe body truncated at byte %d", r.off)
	}
	if r.remaining() != 0 {
		return apperrors.NewCorruptFrameError(frame, "keyframe body has %d trailing bytes", r.remaining())
	}
	return m.validate(frame)
}

// validate checks the triangle list against the vertex arrays.
func (m *mesh) validate(frame int) error {
	if m.indexCount()%3 != 0 {
		return apperrors.NewCorruptFrameError(frame, "%d indices do not form triangles", m.indexCount())
	}
	vertices := uint32(m.vertexCount())
	for i := 0; i < len(m.indices); i += IndexStride {
		if idx := binary.LittleEndian.Uint32(m.indices[i:]); idx >= vertices {
			return apperrors.NewCorruptFrameError(frame, "index %d references vertex %d of %d",
				i/IndexStride, idx, vertices)
		}
	}
	return nil
}

// packedSize returns the bytes pack will write.
func (m *mesh) packedSize() int {
	return len(m.positions) + len(m.normals) + len(m.indices) + len(m.uvs) + len(m.texture)
}

// pack lays the channels out in block order. dst must be packedSize bytes.
func (m *mesh) pack(dst []byte, frame int) (Block, error) {
	b := Block{Frame: frame, Data: dst}
	var off uint64
	for _, ch := range []struct {
		src    []byte
		region *Region
	}{
		{m.positions, &b.Vertices},
		{m.normals, &b.Normals},
		{m.indices, &b.Indices},
		{m.uvs, &b.UVs},
		{m.texture, &b.Texture},
	} {
		if len(ch.src) > math.MaxInt32 {
			return Block{}, apperrors.NewCorruptFrameError(frame, "channel of %d bytes exceeds block region limit", len(ch.src))
		}
		copy(dst[off:], ch.src)
		*ch.region = Region{Offset: off, Length: int32(len(ch.src))}
		off += uint64(len(ch.src))
	}
	return b, nil
}
