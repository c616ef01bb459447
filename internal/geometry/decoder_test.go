package geometry

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/fixture"
	"github.com/zsiec/volplayer/internal/memory"
)

func TestTenFrameScenario(t *testing.T) {
	g := tenFrames()
	for name, streaming := range modes() {
		t.Run(name, func(t *testing.T) {
			s := openFixture(t, g, streaming)

			count, err := s.FrameCount()
			require.NoError(t, err)
			assert.Equal(t, 10, count)

			key, err := s.FindPrecedingKeyframe(7)
			require.NoError(t, err)
			assert.Equal(t, 5, key)

			isKey, err := s.IsKeyframe(5)
			require.NoError(t, err)
			assert.True(t, isKey)

			chain, err := s.ChainLength(7)
			require.NoError(t, err)
			assert.Equal(t, 2, chain)

			require.NoError(t, s.ReadFrame(7))
			block, err := s.CurrentBlock()
			require.NoError(t, err)
			assertBlock(t, g, 7, block)
		})
	}
}

func TestCurrentBlockBeforeFirstRead(t *testing.T) {
	s := openFixture(t, tenFrames(), true)

	block, err := s.CurrentBlock()
	require.NoError(t, err)
	assert.Equal(t, -1, block.Frame)
	assert.Empty(t, block.Data)
	assert.NoError(t, block.Validate())
}

func TestChainReplayMatchesKeyframes(t *testing.T) {
	g := tenFrames()
	for name, streaming := range modes() {
		t.Run(name, func(t *testing.T) {
			chained := openFixture(t, g, streaming)
			direct := openFixture(t, keyframesOnly(g), streaming)

			for n := 0; n < len(g.Frames); n++ {
				require.NoError(t, chained.ReadFrame(n))
				require.NoError(t, direct.ReadFrame(n))

				a, err := chained.CurrentBlock()
				require.NoError(t, err)
				b, err := direct.CurrentBlock()
				require.NoError(t, err)

				assert.Equal(t, b.Data, a.Data, "frame %d", n)
				assert.Equal(t, b.Regions(), a.Regions(), "frame %d", n)
				assertBlock(t, g, n, a)
			}
		})
	}
}

func TestSeekOrderDoesNotMatter(t *testing.T) {
	g := tenFrames()
	s := openFixture(t, g, true)

	// Backwards, across keyframe runs, repeated, and forwards within a run.
	for _, n := range []int{9, 6, 8, 2, 2, 4, 0, 7, 3, 9, 1} {
		require.NoError(t, s.ReadFrame(n), "frame %d", n)
		block, err := s.CurrentBlock()
		require.NoError(t, err)
		assertBlock(t, g, n, block)
	}
}

func TestReadFrameIdempotent(t *testing.T) {
	s := openFixture(t, tenFrames(), false)

	require.NoError(t, s.ReadFrame(8))
	first, err := s.CurrentBlock()
	require.NoError(t, err)
	snapshot := append([]byte(nil), first.Data...)

	require.NoError(t, s.ReadFrame(8))
	second, err := s.CurrentBlock()
	require.NoError(t, err)
	assert.Equal(t, snapshot, second.Data)
	assert.Equal(t, first.Regions(), second.Regions())

	// And again after visiting other frames.
	require.NoError(t, s.ReadFrame(1))
	require.NoError(t, s.ReadFrame(8))
	third, err := s.CurrentBlock()
	require.NoError(t, err)
	assert.Equal(t, snapshot, third.Data)
}

func TestFrameBoundaries(t *testing.T) {
	s := openFixture(t, tenFrames(), true)

	for _, n := range []int{-1, 10, 1 << 20} {
		assert.ErrorIs(t, s.ReadFrame(n), apperrors.ErrOutOfRange, "ReadFrame(%d)", n)

		_, err := s.IsKeyframe(n)
		assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

		_, err = s.FindPrecedingKeyframe(n)
		assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

		_, err = s.Record(n)
		assert.ErrorIs(t, err, apperrors.ErrOutOfRange)
	}

	require.NoError(t, s.ReadFrame(0))
	require.NoError(t, s.ReadFrame(9))
}

func TestCompressedBodies(t *testing.T) {
	for _, tc := range []struct {
		name        string
		compression uint32
	}{
		{"zstd", fixture.CompressionZstd},
		{"lz4", fixture.CompressionLZ4},
	} {
		for mode, streaming := range modes() {
			t.Run(tc.name+"/"+mode, func(t *testing.T) {
				g := tenFrames()
				g.Compression = tc.compression
				s := openFixture(t, g, streaming)

				for _, n := range []int{0, 4, 9, 7} {
					require.NoError(t, s.ReadFrame(n))
					block, err := s.CurrentBlock()
					require.NoError(t, err)
					assertBlock(t, g, n, block)
				}
			})
		}
	}
}

func TestVersion10Stream(t *testing.T) {
	g := fixture.Geometry{
		Version: 10,
		Frames: []fixture.Frame{
			fixture.Key(fixture.Mesh{Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, Indices: []uint32{0, 1, 2}}),
			fixture.Deltas(fixture.MoveVertices(2, 0, 2, 0)),
		},
	}
	s := openFixture(t, g, true)

	require.NoError(t, s.ReadFrame(1))
	block, err := s.CurrentBlock()
	require.NoError(t, err)
	assertBlock(t, g, 1, block)
	assert.True(t, block.Normals.Empty())
	assert.True(t, block.UVs.Empty())
	assert.True(t, block.Texture.Empty())
	assert.Equal(t, [3]float32{0, 2, 0}, block.Position(2))
}

func TestCorruptFrames(t *testing.T) {
	tri := fixture.Mesh{Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, Indices: []uint32{0, 1, 2}}

	tests := []struct {
		name string
		bad  fixture.Frame
	}{
		{"move past end", fixture.Deltas(fixture.MoveVertices(2, 0, 0, 0, 1, 1, 1))},
		{"set indices past end", fixture.Deltas(fixture.SetIndices(2, 0, 1))},
		{"normals on stream without normals", fixture.Deltas(fixture.SetNormals(0, 0, 0, 1))},
		{"uvs on untextured stream", fixture.Deltas(fixture.SetUVs(0, 0, 0))},
		{"texture on untextured stream", fixture.Deltas(fixture.ReplaceTexture([]byte{1}))},
		{"unknown opcode", fixture.Deltas(fixture.RawOp(0x7f))},
		{"truncated payload", fixture.Deltas(fixture.RawOp(0x01, 0, 0, 0, 0))},
		{"remove more than present", fixture.Deltas(fixture.RemoveVertices(4))},
		{"dangling index after remove", fixture.Deltas(fixture.RemoveVertices(1))},
		{"index list not triangles", fixture.Deltas(fixture.ReplaceIndices(0, 1))},
		{"keyframe index out of range", fixture.Key(fixture.Mesh{
			Positions: tri.Positions, Indices: []uint32{0, 1, 3},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := fixture.Geometry{
				Frames: []fixture.Frame{
					fixture.Key(tri),
					fixture.Deltas(fixture.MoveVertices(0, 0.5, 0, 0)),
					tt.bad,
				},
			}
			s := openFixture(t, g, true)

			require.NoError(t, s.ReadFrame(1))
			before, err := s.CurrentBlock()
			require.NoError(t, err)
			snapshot := append([]byte(nil), before.Data...)

			err = s.ReadFrame(2)
			require.ErrorIs(t, err, apperrors.ErrCorruptFrame)
			appErr, ok := apperrors.GetAppError(err)
			require.True(t, ok)
			assert.Equal(t, 2, appErr.Details["frame"])

			after, err := s.CurrentBlock()
			require.NoError(t, err)
			assert.Equal(t, 1, after.Frame)
			assert.Equal(t, snapshot, after.Data)

			// The stream stays usable.
			require.NoError(t, s.ReadFrame(1))
			block, err := s.CurrentBlock()
			require.NoError(t, err)
			assertBlock(t, g, 1, block)
		})
	}
}

func TestCorruptCompressedBody(t *testing.T) {
	tri := fixture.Mesh{Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, Indices: []uint32{0, 1, 2}}
	g := fixture.Geometry{Compression: fixture.CompressionLZ4, Frames: []fixture.Frame{fixture.Key(tri), fixture.Key(tri)}}

	records, err := g.Records()
	require.NoError(t, err)
	// Claim one more decompressed byte than the block holds.
	size := binary.LittleEndian.Uint32(records[1].Body)
	binary.LittleEndian.PutUint32(records[1].Body, size+1)

	headerPath, sequencePath, err := fixture.WriteFiles(t.TempDir(), g.HeaderBytes(), fixture.EncodeSequence(records))
	require.NoError(t, err)
	s, err := Open(context.Background(), "lz4", headerPath, sequencePath, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ReadFrame(0))
	assert.ErrorIs(t, s.ReadFrame(1), apperrors.ErrCorruptFrame)
}

func TestZstdBodyLargerThanDeclared(t *testing.T) {
	tri := fixture.Mesh{Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, Indices: []uint32{0, 1, 2}}
	zeros := make([]byte, 16<<20)

	tests := []struct {
		name   string
		encode func(t *testing.T) []byte
	}{
		{"content size in frame header", func(t *testing.T) []byte {
			enc, err := zstd.NewWriter(nil)
			require.NoError(t, err)
			defer enc.Close()
			return enc.EncodeAll(zeros, nil)
		}},
		{"content size unknown", func(t *testing.T) []byte {
			var buf bytes.Buffer
			enc, err := zstd.NewWriter(&buf)
			require.NoError(t, err)
			_, err = enc.Write(zeros)
			require.NoError(t, err)
			require.NoError(t, enc.Close())
			return buf.Bytes()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := fixture.Geometry{Compression: fixture.CompressionZstd, Frames: []fixture.Frame{fixture.Key(tri), fixture.Key(tri)}}
			records, err := g.Records()
			require.NoError(t, err)

			// Keep the small declared size of the real body, swap in a payload
			// that inflates to megabytes.
			declared := binary.LittleEndian.Uint32(records[1].Body)
			body := binary.LittleEndian.AppendUint32(nil, declared)
			records[1].Body = append(body, tt.encode(t)...)

			headerPath, sequencePath, err := fixture.WriteFiles(t.TempDir(), g.HeaderBytes(), fixture.EncodeSequence(records))
			require.NoError(t, err)
			s, err := Open(context.Background(), "zstd", headerPath, sequencePath, false)
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.ReadFrame(0))
			err = s.ReadFrame(1)
			require.ErrorIs(t, err, apperrors.ErrCorruptFrame)
			assert.ErrorIs(t, err, zstd.ErrDecoderSizeExceeded)

			block, err := s.CurrentBlock()
			require.NoError(t, err)
			assert.Equal(t, 0, block.Frame)
		})
	}
}

func TestMemoryBudget(t *testing.T) {
	ctrl := memory.NewController(1<<20, 6000)
	s := openFixture(t, tenFrames(), true, WithBudget(ctrl))

	// One page-aligned slab fits the budget, a second one does not.
	err := s.ReadFrame(0)
	require.NoError(t, err)
	err = s.ReadFrame(1)
	require.ErrorIs(t, err, apperrors.ErrCorruptFrame)
	assert.ErrorIs(t, err, memory.ErrStreamMemoryLimit)

	block, err := s.CurrentBlock()
	require.NoError(t, err)
	assert.Equal(t, 0, block.Frame)

	require.NoError(t, s.Close())
	assert.Equal(t, int64(0), ctrl.GetStreamUsage(s.ID()))
}

func TestConcurrentStreams(t *testing.T) {
	g := tenFrames()
	streams := make([]*Stream, 4)
	for i := range streams {
		streams[i] = openFixture(t, g, i%2 == 0)
	}

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *Stream) {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				n := (round * 7) % 10
				if assert.NoError(t, s.ReadFrame(n)) {
					block, err := s.CurrentBlock()
					assert.NoError(t, err)
					assert.Equal(t, packed(g, g.Expected()[n]), block.Data)
				}
			}
		}(s)
	}
	wg.Wait()
}
