package geometry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/fixture"
)

// quad is a two-triangle square shifted along x by dx.
func quad(dx float32) fixture.Mesh {
	return fixture.Mesh{
		Positions: []float32{
			dx + 0, 0, 0,
			dx + 1, 0, 0,
			dx + 1, 1, 0,
			dx + 0, 1, 0,
		},
		Normals: []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		UVs:     []float32{0, 0, 1, 0, 1, 1, 0, 1},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
		Texture: []byte{1, 2, 3, 4},
	}
}

// tenFrames has keyframes at 0 and 5; every other frame is a delta.
func tenFrames() fixture.Geometry {
	return fixture.Geometry{
		MeshName:   "performer",
		Material:   "skin",
		Shader:     "unlit",
		HasNormals: true,
		Textured:   true,
		TexWidth:   2, TexHeight: 1, TexFormat: 1,
		Scale: 1, Rotation: [4]float32{0, 0, 0, 1},
		Frames: []fixture.Frame{
			fixture.Key(quad(0)),
			fixture.Deltas(fixture.MoveVertices(0, -0.5, 0, 0)),
			fixture.Deltas(fixture.MoveVertices(2, 1.5, 1.5, 0, 0, 1.5, 0)),
			fixture.Deltas(fixture.SetNormals(1, 0, 1, 0), fixture.SetUVs(3, 0.25, 0.75)),
			fixture.Deltas(
				fixture.AppendVertices([]float32{2, 0, 0}, []float32{0, 0, 1}, []float32{1, 0}),
				fixture.ReplaceIndices(0, 1, 2, 0, 2, 3, 1, 4, 2),
			),
			fixture.Key(quad(10)),
			fixture.Deltas(fixture.MoveVertices(1, 11, 0.5, 0)),
			fixture.Deltas(fixture.SetIndices(3, 3, 2, 0), fixture.ReplaceTexture([]byte{9, 9})),
			fixture.Deltas(
				fixture.ReplaceIndices(0, 1, 2),
				fixture.RemoveVertices(1),
			),
			fixture.Deltas(
				fixture.AppendVertices([]float32{12, 2, 0, 13, 2, 0}, []float32{0, 0, 1, 0, 0, 1}, []float32{0, 0, 1, 1}),
				fixture.ReplaceIndices(0, 1, 2, 2, 3, 4),
			),
		},
	}
}

// keyframesOnly re-encodes g so that every frame is a keyframe holding the
// mesh g's frame decodes to.
func keyframesOnly(g fixture.Geometry) fixture.Geometry {
	out := g
	out.Frames = nil
	for _, m := range g.Expected() {
		out.Frames = append(out.Frames, fixture.Key(m))
	}
	return out
}

func openFixture(t *testing.T, g fixture.Geometry, streaming bool, opts ...Option) *Stream {
	t.Helper()
	headerPath, sequencePath, err := fixture.Write(t.TempDir(), g)
	require.NoError(t, err)

	s, err := Open(context.Background(), "", headerPath, sequencePath, streaming, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// packed returns the block bytes m must produce under g's channel flags.
func packed(g fixture.Geometry, m fixture.Mesh) []byte {
	var b bytes.Buffer
	b.Write(fixture.Float32Bytes(m.Positions))
	if g.HasNormals {
		b.Write(fixture.Float32Bytes(m.Normals))
	}
	b.Write(fixture.Uint32Bytes(m.Indices))
	if g.Textured {
		b.Write(fixture.Float32Bytes(m.UVs))
		b.Write(m.Texture)
	}
	return b.Bytes()
}

func assertBlock(t *testing.T, g fixture.Geometry, frame int, b Block) {
	t.Helper()
	m := g.Expected()[frame]

	require.NoError(t, b.Validate())
	assert.Equal(t, frame, b.Frame)
	assert.Equal(t, packed(g, m), b.Data)
	assert.Equal(t, m.VertexCount(), b.VertexCount())
	assert.Equal(t, len(m.Indices), b.IndexCount())
	assert.Equal(t, fixture.Float32Bytes(m.Positions), b.VertexBytes())
	assert.Equal(t, fixture.Uint32Bytes(m.Indices), b.IndexBytes())
	if g.Textured {
		assert.Equal(t, m.Texture, b.TextureBytes())
	}
}

func modes() map[string]bool {
	return map[string]bool{"streaming": true, "preloaded": false}
}
