package geometry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/fixture"
)

func smallGeometry() fixture.Geometry {
	tri := fixture.Mesh{Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, Indices: []uint32{0, 1, 2}}
	return fixture.Geometry{Frames: []fixture.Frame{
		fixture.Key(tri),
		fixture.Deltas(fixture.MoveVertices(0, 1, 1, 1)),
		fixture.Key(tri),
	}}
}

func TestOpenFormatErrors(t *testing.T) {
	g := smallGeometry()
	header := g.HeaderBytes()
	records, err := g.Records()
	require.NoError(t, err)
	sequence := fixture.EncodeSequence(records)

	withHeader := func(mutate func(h []byte) []byte) func() ([]byte, []byte) {
		return func() ([]byte, []byte) {
			return mutate(append([]byte(nil), header...)), sequence
		}
	}
	withRecords := func(mutate func(r []fixture.Record) []fixture.Record) func() ([]byte, []byte) {
		return func() ([]byte, []byte) {
			rs := append([]fixture.Record(nil), records...)
			return header, fixture.EncodeSequence(mutate(rs))
		}
	}
	withGeometry := func(mutate func(g *fixture.Geometry)) func() ([]byte, []byte) {
		return func() ([]byte, []byte) {
			g := smallGeometry()
			mutate(&g)
			seq, err := g.SequenceBytes()
			require.NoError(t, err)
			return g.HeaderBytes(), seq
		}
	}

	tests := []struct {
		name  string
		build func() ([]byte, []byte)
	}{
		{"bad magic", withHeader(func(h []byte) []byte { copy(h, "XOLS"); return h })},
		{"empty header", withHeader(func([]byte) []byte { return nil })},
		{"version too old", withGeometry(func(g *fixture.Geometry) { g.Version = 9 })},
		{"version too new", withGeometry(func(g *fixture.Geometry) { g.Version = 13 })},
		{"unknown compression", withHeader(func(h []byte) []byte { fixture.PutUint32(h[8:], 7); return h })},
		{"truncated header", withHeader(func(h []byte) []byte { return h[:len(h)-2] })},
		{"trailing header bytes", withHeader(func(h []byte) []byte { return append(h, 0) })},
		{"no frames", withGeometry(func(g *fixture.Geometry) { g.Frames = nil })},
		{"frame count beyond sequence size", withHeader(func(h []byte) []byte {
			// magic, version, compression, three empty strings, topology, then the count.
			fixture.PutUint32(h[4+4+4+2+2+2+4:], 0xFFFFFFFF)
			return h
		})},
		{"frame count beyond sequence size in version 10", func() ([]byte, []byte) {
			g := smallGeometry()
			g.Version = 10
			seq, err := g.SequenceBytes()
			require.NoError(t, err)
			h := g.HeaderBytes()
			fixture.PutUint32(h[4+4+4+2+2+2+4:], 0xFFFFFFFF)
			return h, seq
		}},
		{"first frame is a delta", withRecords(func(r []fixture.Record) []fixture.Record {
			r[0].Kind = 0
			return r
		})},
		{"unknown record kind", withRecords(func(r []fixture.Record) []fixture.Record {
			r[1].Kind = 2
			return r
		})},
		{"record numbering gap", withRecords(func(r []fixture.Record) []fixture.Record {
			r[2].Number = 3
			return r
		})},
		{"trailer mismatch", withRecords(func(r []fixture.Record) []fixture.Record {
			r[1].Trailer = 1
			return r
		})},
		{"fewer records than declared", withRecords(func(r []fixture.Record) []fixture.Record { return r[:2] })},
		{"more records than declared", withRecords(func(r []fixture.Record) []fixture.Record {
			extra := r[2]
			extra.Number = 3
			return append(r, extra)
		})},
		{"truncated body", func() ([]byte, []byte) { return header, sequence[:len(sequence)-6] }},
	}

	for _, tt := range tests {
		for mode, streaming := range modes() {
			t.Run(tt.name+"/"+mode, func(t *testing.T) {
				h, seq := tt.build()
				headerPath, sequencePath, err := fixture.WriteFiles(t.TempDir(), h, seq)
				require.NoError(t, err)

				s, err := Open(context.Background(), "bad", headerPath, sequencePath, streaming)
				assert.Nil(t, s)
				assert.ErrorIs(t, err, apperrors.ErrFormat)
			})
		}
	}
}

func TestOpenTopologyRejected(t *testing.T) {
	h := smallGeometry().HeaderBytes()
	// magic, version, compression, three empty strings, then topology.
	fixture.PutUint32(h[4+4+4+2+2+2:], 1)

	_, err := ParseHeader(h)
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestOpenIOErrors(t *testing.T) {
	dir := t.TempDir()
	headerPath, sequencePath, err := fixture.Write(dir, smallGeometry())
	require.NoError(t, err)
	missing := filepath.Join(dir, "missing.vols")

	for mode, streaming := range modes() {
		t.Run(mode, func(t *testing.T) {
			_, err := Open(context.Background(), "a", missing, sequencePath, streaming)
			assert.ErrorIs(t, err, apperrors.ErrIO)

			_, err = Open(context.Background(), "b", headerPath, missing, streaming)
			assert.ErrorIs(t, err, apperrors.ErrIO)
		})
	}
}

func TestOpenCancelled(t *testing.T) {
	headerPath, sequencePath, err := fixture.Write(t.TempDir(), smallGeometry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Open(ctx, "c", headerPath, sequencePath, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenGeneratesID(t *testing.T) {
	s := openFixture(t, smallGeometry(), true)
	assert.Len(t, s.ID(), 36)
}

func TestClosedStream(t *testing.T) {
	for mode, streaming := range modes() {
		t.Run(mode, func(t *testing.T) {
			headerPath, sequencePath, err := fixture.Write(t.TempDir(), smallGeometry())
			require.NoError(t, err)
			s, err := Open(context.Background(), "closing", headerPath, sequencePath, streaming)
			require.NoError(t, err)
			require.NoError(t, s.ReadFrame(1))

			require.NoError(t, s.Close())

			calls := map[string]func() error{
				"Close":     s.Close,
				"ReadFrame": func() error { return s.ReadFrame(0) },
				"FrameCount": func() error {
					_, err := s.FrameCount()
					return err
				},
				"IsKeyframe": func() error {
					_, err := s.IsKeyframe(0)
					return err
				},
				"FindPrecedingKeyframe": func() error {
					_, err := s.FindPrecedingKeyframe(0)
					return err
				},
				"CurrentBlock": func() error {
					_, err := s.CurrentBlock()
					return err
				},
				"Header": func() error {
					_, err := s.Header()
					return err
				},
				"Info": func() error {
					_, err := s.Info()
					return err
				},
			}
			for name, call := range calls {
				assert.ErrorIs(t, call(), apperrors.ErrInvalidHandle, name)
			}
		})
	}
}

func TestCloseWaitsForDecode(t *testing.T) {
	s := openFixture(t, tenFrames(), true)

	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 200 && err == nil; i++ {
			err = s.ReadFrame(i % 10)
		}
		done <- err
	}()

	require.NoError(t, s.Close())
	err := <-done
	if err != nil {
		assert.ErrorIs(t, err, apperrors.ErrInvalidHandle)
	}
}
