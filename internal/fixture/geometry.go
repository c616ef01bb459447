// Package fixture writes small geometry and video containers for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression codes as stored in the header.
const (
	CompressionNone uint32 = 0
	CompressionZstd uint32 = 1
	CompressionLZ4  uint32 = 2
)

// Mesh is a frame's geometry in plain numbers.
type Mesh struct {
	Positions []float32 // x, y, z per vertex
	Normals   []float32 // x, y, z per vertex when the stream has normals
	UVs       []float32 // u, v per vertex when the stream is textured
	Indices   []uint32
	Texture   []byte
}

// VertexCount returns len(Positions)/3.
func (m Mesh) VertexCount() int {
	return len(m.Positions) / 3
}

// Clone deep-copies m.
func (m Mesh) Clone() Mesh {
	return Mesh{
		Positions: append([]float32(nil), m.Positions...),
		Normals:   append([]float32(nil), m.Normals...),
		UVs:       append([]float32(nil), m.UVs...),
		Indices:   append([]uint32(nil), m.Indices...),
		Texture:   append([]byte(nil), m.Texture...),
	}
}

// Frame is either a keyframe mesh or a list of delta ops.
type Frame struct {
	Keyframe *Mesh
	Ops      []Op
}

// Key makes a keyframe.
func Key(m Mesh) Frame {
	return Frame{Keyframe: &m}
}

// Deltas makes a delta frame.
func Deltas(ops ...Op) Frame {
	return Frame{Ops: ops}
}

// Geometry describes a header and sequence pair.
type Geometry struct {
	Version     uint32 // 12 when zero
	Compression uint32
	MeshName    string
	Material    string
	Shader      string
	HasNormals  bool
	Textured    bool
	TexWidth    uint16
	TexHeight   uint16
	TexFormat   uint16
	Translation [3]float32
	Rotation    [4]float32
	Scale       float32
	Frames      []Frame
}

func (g Geometry) version() uint32 {
	if g.Version == 0 {
		return 12
	}
	return g.Version
}

// HeaderBytes encodes the header file.
func (g Geometry) HeaderBytes() []byte {
	var b bytes.Buffer
	b.WriteString("VOLS")
	put(&b, g.version(), g.Compression)
	for _, s := range []string{g.MeshName, g.Material, g.Shader} {
		put(&b, uint16(len(s)))
		b.WriteString(s)
	}
	put(&b, uint32(0), uint32(len(g.Frames)))
	if g.version() >= 11 {
		put(&b, boolByte(g.HasNormals), boolByte(g.Textured), g.TexWidth, g.TexHeight, g.TexFormat)
	}
	if g.version() >= 12 {
		put(&b, g.Translation, g.Rotation, g.Scale)
	}
	return b.Bytes()
}

// Record is one sequence record. Trailer 0 means the correct value.
type Record struct {
	Number  uint32
	Kind    uint8
	Body    []byte
	Trailer uint32
}

// Records encodes every frame, compressing bodies as the header declares.
func (g Geometry) Records() ([]Record, error) {
	records := make([]Record, len(g.Frames))
	for i, f := range g.Frames {
		var (
			raw  []byte
			kind uint8
		)
		if f.Keyframe != nil {
			raw, kind = g.encodeKeyframe(*f.Keyframe), 1
		} else {
			raw = g.encodeDelta(f.Ops)
		}
		body, err := Compress(g.Compression, raw)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		records[i] = Record{Number: uint32(i), Kind: kind, Body: body}
	}
	return records, nil
}

// SequenceBytes encodes the whole sequence file.
func (g Geometry) SequenceBytes() ([]byte, error) {
	records, err := g.Records()
	if err != nil {
		return nil, err
	}
	return EncodeSequence(records), nil
}

// Expected returns the mesh every frame should decode to.
func (g Geometry) Expected() []Mesh {
	out := make([]Mesh, len(g.Frames))
	var cur Mesh
	for i, f := range g.Frames {
		if f.Keyframe != nil {
			cur = f.Keyframe.Clone()
		} else {
			for _, op := range f.Ops {
				cur = op.Apply(cur)
			}
		}
		out[i] = cur.Clone()
	}
	return out
}

// EncodeSequence lays records out back to back.
func EncodeSequence(records []Record) []byte {
	var b bytes.Buffer
	for _, r := range records {
		trailer := r.Trailer
		if trailer == 0 {
			trailer = uint32(9 + len(r.Body))
		}
		put(&b, r.Number, r.Kind, uint32(len(r.Body)))
		b.Write(r.Body)
		put(&b, trailer)
	}
	return b.Bytes()
}

// Write stores g as header.vols and sequence.vols under dir.
func Write(dir string, g Geometry) (headerPath, sequencePath string, err error) {
	seq, err := g.SequenceBytes()
	if err != nil {
		return "", "", err
	}
	return WriteFiles(dir, g.HeaderBytes(), seq)
}

// WriteFiles stores raw header and sequence bytes under dir.
func WriteFiles(dir string, header, sequence []byte) (headerPath, sequencePath string, err error) {
	headerPath = filepath.Join(dir, "header.vols")
	sequencePath = filepath.Join(dir, "sequence.vols")
	if err := os.WriteFile(headerPath, header, 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(sequencePath, sequence, 0o644); err != nil {
		return "", "", err
	}
	return headerPath, sequencePath, nil
}

func (g Geometry) encodeKeyframe(m Mesh) []byte {
	var b bytes.Buffer
	put(&b, uint32(m.VertexCount()), m.Positions)
	if g.HasNormals {
		put(&b, m.Normals)
	}
	put(&b, uint32(len(m.Indices)), m.Indices)
	if g.Textured {
		put(&b, m.UVs, uint32(len(m.Texture)))
		b.Write(m.Texture)
	}
	return b.Bytes()
}

func (g Geometry) encodeDelta(ops []Op) []byte {
	var b bytes.Buffer
	put(&b, uint32(len(ops)))
	for _, op := range ops {
		op.encode(&b, g.HasNormals, g.Textured)
	}
	return b.Bytes()
}

// Compress wraps a raw body the way the sequence stores it.
func Compress(compression uint32, raw []byte) ([]byte, error) {
	var payload []byte
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(raw, nil)
		enc.Close()
	case CompressionLZ4:
		payload = LZ4Block(raw)
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(raw)))
	return append(out, payload...), nil
}

// LZ4Block compresses src into a single LZ4 block. Input the compressor
// rejects as incompressible is stored as one literal run, which is still a
// valid block.
func LZ4Block(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err == nil && n > 0 {
		return dst[:n]
	}

	out := []byte{0}
	if l := len(src); l < 15 {
		out[0] = byte(l << 4)
	} else {
		out[0] = 0xf0
		for l -= 15; l >= 255; l -= 255 {
			out = append(out, 255)
		}
		out = append(out, byte((len(src)-15)%255))
	}
	return append(out, src...)
}

func put(b *bytes.Buffer, values ...interface{}) {
	for _, v := range values {
		// Writes to a bytes.Buffer cannot fail for fixed-size values.
		_ = binary.Write(b, binary.LittleEndian, v)
	}
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// Float32Bytes encodes values little endian, as the packed block stores them.
func Float32Bytes(values []float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// Uint32Bytes encodes values little endian.
func Uint32Bytes(values []uint32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}
