package geometry

import (
	"fmt"
	"os"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

const (
	Magic      = "VOLS"
	MinVersion = 10
	MaxVersion = 12
)

// Compression applies to every frame body of a sequence.
type Compression uint32

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint32(c))
	}
}

// TopologyTriangles is the only primitive layout the container defines.
const TopologyTriangles uint32 = 0

// TextureInfo describes the per-frame texture carried in textured streams.
type TextureInfo struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
	Format uint16 `json:"format"`
}

// Transform is the model transform stored in version 12 headers.
type Transform struct {
	Translation [3]float32 `json:"translation"`
	Rotation    [4]float32 `json:"rotation"` // quaternion x, y, z, w
	Scale       float32    `json:"scale"`
}

// IdentityTransform is used for headers older than version 12.
var IdentityTransform = Transform{Rotation: [4]float32{0, 0, 0, 1}, Scale: 1}

// Header is the parsed geometry header file.
type Header struct {
	Version     uint32      `json:"version"`
	Compression Compression `json:"-"`
	MeshName    string      `json:"mesh_name"`
	Material    string      `json:"material"`
	Shader      string      `json:"shader"`
	Topology    uint32      `json:"topology"`
	FrameCount  int         `json:"frame_count"`
	HasNormals  bool        `json:"has_normals"`
	Textured    bool        `json:"textured"`
	Texture     TextureInfo `json:"texture"`
	Transform   Transform   `json:"transform"`
}

// ReadHeaderFile reads and parses a header file.
func ReadHeaderFile(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, apperrors.NewIOError(err, "read header %s", path)
	}
	h, err := ParseHeader(data)
	if err != nil {
		if appErr, ok := apperrors.GetAppError(err); ok {
			appErr.WithDetail("path", path)
		}
		return Header{}, err
	}
	return h, nil
}

// ParseHeader decodes a header from its bytes.
func ParseHeader(data []byte) (Header, error) {
	r := newByteReader(data)

	if magic := r.bytes(4); r.err != nil || string(magic) != Magic {
		return Header{}, apperrors.NewFormatError("bad magic %q", magic)
	}

	h := Header{
		Version:     r.u32(),
		Compression: Compression(r.u32()),
		MeshName:    r.str(),
		Material:    r.str(),
		Shader:      r.str(),
		Topology:    r.u32(),
		FrameCount:  int(r.u32()),
		Transform:   IdentityTransform,
	}
	if r.err != nil {
		return Header{}, apperrors.WrapFormatError(r.err, "truncated header")
	}

	if h.Version < MinVersion || h.Version > MaxVersion {
		return Header{}, apperrors.NewFormatError("unsupported version %d", h.Version).
			WithDetail("supported", fmt.Sprintf("%d-%d", MinVersion, MaxVersion))
	}
	if h.Compression > CompressionLZ4 {
		return Header{}, apperrors.NewFormatError("unknown %s", h.Compression)
	}
	if h.Topology != TopologyTriangles {
		return Header{}, apperrors.NewFormatError("unsupported topology %d", h.Topology)
	}
	if h.FrameCount == 0 {
		return Header{}, apperrors.NewFormatError("header declares no frames")
	}

	if h.Version >= 11 {
		h.HasNormals = r.u8() != 0
		h.Textured = r.u8() != 0
		h.Texture = TextureInfo{Width: r.u16(), Height: r.u16(), Format: r.u16()}
	}
	if h.Version >= 12 {
		for i := range h.Transform.Translation {
			h.Transform.Translation[i] = r.f32()
		}
		for i := range h.Transform.Rotation {
			h.Transform.Rotation[i] = r.f32()
		}
		h.Transform.Scale = r.f32()
	}
	if r.err != nil {
		return Header{}, apperrors.WrapFormatError(r.err, "truncated version %d header", h.Version)
	}
	if r.remaining() != 0 {
		return Header{}, apperrors.NewFormatError("%d trailing header bytes", r.remaining())
	}

	return h, nil
}
