package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/fixture"
)

func TestBlockValidate(t *testing.T) {
	data := make([]byte, 40)
	valid := Block{
		Data:     data,
		Vertices: Region{0, 24},
		Normals:  Region{24, 0},
		Indices:  Region{24, 12},
		UVs:      Region{36, 0},
		Texture:  Region{36, 4},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(b *Block)
	}{
		{"gap", func(b *Block) { b.Indices.Offset = 28 }},
		{"overlap", func(b *Block) { b.Indices.Offset = 20 }},
		{"negative length", func(b *Block) { b.Normals.Length = -1 }},
		{"short cover", func(b *Block) { b.Texture.Length = 2 }},
		{"past end", func(b *Block) { b.Texture.Length = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			assert.Error(t, b.Validate())
		})
	}
}

func TestBlockSliceBounds(t *testing.T) {
	b := Block{Data: make([]byte, 8)}

	assert.Len(t, b.Slice(Region{0, 8}), 8)
	assert.Len(t, b.Slice(Region{8, 0}), 0)
	assert.Nil(t, b.Slice(Region{4, 8}))
	assert.Nil(t, b.Slice(Region{0, -1}))
	assert.Nil(t, b.Slice(Region{1 << 62, 1}))
}

func TestBlockAccessors(t *testing.T) {
	positions := []float32{-1, 2, 0, 3, -4, 5}
	data := append(fixture.Float32Bytes(positions), fixture.Uint32Bytes([]uint32{1, 0, 1})...)
	b := Block{
		Data:     data,
		Vertices: Region{0, 24},
		Normals:  Region{24, 0},
		Indices:  Region{24, 12},
		UVs:      Region{36, 0},
		Texture:  Region{36, 0},
	}

	assert.Equal(t, 2, b.VertexCount())
	assert.Equal(t, 3, b.IndexCount())
	assert.Equal(t, [3]float32{3, -4, 5}, b.Position(1))
	assert.Equal(t, uint32(1), b.Index(2))

	min, max, ok := b.Bounds()
	require.True(t, ok)
	assert.Equal(t, [3]float32{-1, -4, 0}, min)
	assert.Equal(t, [3]float32{3, 2, 5}, max)

	_, _, ok = emptyBlock().Bounds()
	assert.False(t, ok)
}
