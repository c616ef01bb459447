package geometry

import (
	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// Delta opcodes.
const (
	OpMoveVertices   uint8 = 0x01
	OpSetNormals     uint8 = 0x02
	OpAppendVertices uint8 = 0x03
	OpRemoveVertices uint8 = 0x04
	OpSetUVs         uint8 = 0x05
	OpReplaceIndices uint8 = 0x06
	OpSetIndices     uint8 = 0x07
	OpReplaceTexture uint8 = 0x08
)

var opNames = map[uint8]string{
	OpMoveVertices:   "MoveVertices",
	OpSetNormals:     "SetNormals",
	OpAppendVertices: "AppendVertices",
	OpRemoveVertices: "RemoveVertices",
	OpSetUVs:         "SetUVs",
	OpReplaceIndices: "ReplaceIndices",
	OpSetIndices:     "SetIndices",
	OpReplaceTexture: "ReplaceTexture",
}

// applyDelta mutates m by one delta body. On error m is left partially
// modified; callers must discard it.
func (m *mesh) applyDelta(body []byte, frame int) error {
	r := newByteReader(body)
	ops := r.u32()
	if r.err != nil {
		return apperrors.NewCorruptFrameError(frame, "delta body has no op count")
	}

	for i := uint32(0); i < ops; i++ {
		op := r.u8()
		if r.err != nil {
			return apperrors.NewCorruptFrameError(frame, "delta ends before op %d of %d", i, ops)
		}
		if err := m.applyOp(r, op, frame); err != nil {
			if appErr, ok := apperrors.GetAppError(err); ok {
				appErr.WithDetail("op", i)
			}
			return err
		}
	}
	if r.remaining() != 0 {
		return apperrors.NewCorruptFrameError(frame, "delta body has %d trailing bytes", r.remaining())
	}
	return m.validate(frame)
}

func (m *mesh) applyOp(r *byteReader, op uint8, frame int) error {
	name, known := opNames[op]
	if !known {
		return apperrors.NewCorruptFrameError(frame, "unknown delta op 0x%02x", op)
	}
	truncated := func() error {
		return apperrors.NewCorruptFrameError(frame, "%s payload truncated", name)
	}

	switch op {
	case OpMoveVertices, OpSetNormals, OpSetUVs, OpSetIndices:
		start, count := r.u32(), r.u32()
		var (
			dst    []byte
			stride int
			limit  int
		)
		switch op {
		case OpMoveVertices:
			dst, stride, limit = m.positions, PositionStride, m.vertexCount()
		case OpSetNormals:
			if !m.hasNormals {
				return apperrors.NewCorruptFrameError(frame, "%s on a stream without normals", name)
			}
			dst, stride, limit = m.normals, NormalStride, m.vertexCount()
		case OpSetUVs:
			if !m.textured {
				return apperrors.NewCorruptFrameError(frame, "%s on an untextured stream", name)
			}
			dst, stride, limit = m.uvs, UVStride, m.vertexCount()
		case OpSetIndices:
			dst, stride, limit = m.indices, IndexStride, m.indexCount()
		}
		src := r.span(count, stride)
		if r.err != nil {
			return truncated()
		}
		if uint64(start)+uint64(count) > uint64(limit) {
			return apperrors.NewCorruptFrameError(frame, "%s range [%d, %d) outside %d elements",
				name, start, uint64(start)+uint64(count), limit)
		}
		copy(dst[int(start)*stride:], src)

	case OpAppendVertices:
		count := r.u32()
		positions := r.span(count, PositionStride)
		var normals, uvs []byte
		if m.hasNormals {
			normals = r.span(count, NormalStride)
		}
		if m.textured {
			uvs = r.span(count, UVStride)
		}
		if r.err != nil {
			return truncated()
		}
		m.positions = append(m.positions, positions...)
		m.normals = append(m.normals, normals...)
		m.uvs = append(m.uvs, uvs...)

	case OpRemoveVertices:
		count := r.u32()
		if r.err != nil {
			return truncated()
		}
		if int64(count) > int64(m.vertexCount()) {
			return apperrors.NewCorruptFrameError(frame, "%s of %d from %d vertices", name, count, m.vertexCount())
		}
		keep := m.vertexCount() - int(count)
		m.positions = m.positions[:keep*PositionStride]
		if m.hasNormals {
			m.normals = m.normals[:keep*NormalStride]
		}
		if m.textured {
			m.uvs = m.uvs[:keep*UVStride]
		}

	case OpReplaceIndices:
		count := r.u32()
		indices := r.span(count, IndexStride)
		if r.err != nil {
			return truncated()
		}
		m.indices = append(m.indices[:0], indices...)

	case OpReplaceTexture:
		if !m.textured {
			return apperrors.NewCorruptFrameError(frame, "%s on an untextured stream", name)
		}
		size := r.u32()
		texture := r.span(size, 1)
		if r.err != nil {
			return truncated()
		}
		m.texture = append(m.texture[:0], texture...)
	}
	return nil
}
