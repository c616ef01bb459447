package fixture

import (
	"bytes"
)

// Op is one delta operation. Apply is a float-level reference used to
// compute what a decoder must produce.
type Op struct {
	code      uint8
	start     uint32
	count     uint32
	positions []float32
	normals   []float32
	uvs       []float32
	indices   []uint32
	texture   []byte
	raw       []byte
}

// MoveVertices overwrites positions from vertex start.
func MoveVertices(start uint32, positions ...float32) Op {
	return Op{code: 0x01, start: start, count: uint32(len(positions) / 3), positions: positions}
}

// SetNormals overwrites normals from vertex start.
func SetNormals(start uint32, normals ...float32) Op {
	return Op{code: 0x02, start: start, count: uint32(len(normals) / 3), normals: normals}
}

// AppendVertices adds vertices. normals and uvs are written only when the
// stream carries those channels.
func AppendVertices(positions, normals, uvs []float32) Op {
	return Op{code: 0x03, count: uint32(len(positions) / 3), positions: positions, normals: normals, uvs: uvs}
}

// RemoveVertices drops count vertices from the tail.
func RemoveVertices(count uint32) Op {
	return Op{code: 0x04, count: count}
}

// SetUVs overwrites uvs from vertex start.
func SetUVs(start uint32, uvs ...float32) Op {
	return Op{code: 0x05, start: start, count: uint32(len(uvs) / 2), uvs: uvs}
}

// ReplaceIndices swaps the whole triangle list.
func ReplaceIndices(indices ...uint32) Op {
	return Op{code: 0x06, count: uint32(len(indices)), indices: indices}
}

// SetIndices overwrites indices from position start.
func SetIndices(start uint32, indices ...uint32) Op {
	return Op{code: 0x07, start: start, count: uint32(len(indices)), indices: indices}
}

// ReplaceTexture swaps the texture payload.
func ReplaceTexture(texture []byte) Op {
	return Op{code: 0x08, texture: texture}
}

// RawOp emits b verbatim in place of an encoded op. Apply ignores it.
func RawOp(b ...byte) Op {
	return Op{raw: b}
}

func (o Op) encode(b *bytes.Buffer, hasNormals, textured bool) {
	if o.raw != nil {
		b.Write(o.raw)
		return
	}
	b.WriteByte(o.code)
	switch o.code {
	case 0x01:
		put(b, o.start, o.count, o.positions)
	case 0x02:
		put(b, o.start, o.count, o.normals)
	case 0x03:
		put(b, o.count, o.positions)
		if hasNormals {
			put(b, o.normals)
		}
		if textured {
			put(b, o.uvs)
		}
	case 0x04:
		put(b, o.count)
	case 0x05:
		put(b, o.start, o.count, o.uvs)
	case 0x06:
		put(b, o.count, o.indices)
	case 0x07:
		put(b, o.start, o.count, o.indices)
	case 0x08:
		put(b, uint32(len(o.texture)))
		b.Write(o.texture)
	}
}

// Apply returns m with the op applied. The input is not modified. Ops that
// a decoder must reject are applied as far as they fit, never panicking.
func (o Op) Apply(m Mesh) Mesh {
	m = m.Clone()
	switch o.code {
	case 0x01:
		copy(from(m.Positions, o.start*3), o.positions)
	case 0x02:
		copy(from(m.Normals, o.start*3), o.normals)
	case 0x03:
		m.Positions = append(m.Positions, o.positions...)
		m.Normals = append(m.Normals, o.normals...)
		m.UVs = append(m.UVs, o.uvs...)
	case 0x04:
		keep := m.VertexCount() - int(o.count)
		if keep < 0 {
			keep = 0
		}
		m.Positions = m.Positions[:keep*3]
		if len(m.Normals) >= keep*3 {
			m.Normals = m.Normals[:keep*3]
		}
		if len(m.UVs) >= keep*2 {
			m.UVs = m.UVs[:keep*2]
		}
	case 0x05:
		copy(from(m.UVs, o.start*2), o.uvs)
	case 0x06:
		m.Indices = append([]uint32(nil), o.indices...)
	case 0x07:
		copy(from(m.Indices, o.start), o.indices)
	case 0x08:
		m.Texture = append([]byte(nil), o.texture...)
	}
	return m
}

func from[T any](s []T, start uint32) []T {
	if int(start) > len(s) {
		return nil
	}
	return s[start:]
}
