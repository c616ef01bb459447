package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/registry"
	"github.com/zsiec/volplayer/pkg/version"
)

// FrameResponse describes one geometry frame. Block is set only when the
// frame was decoded.
type FrameResponse struct {
	geometry.FrameRecord
	Kind        string       `json:"kind"`
	ChainLength int          `json:"chain_length"`
	Block       *BlockReport `json:"block,omitempty"`
}

// BlockReport summarizes a decoded block without its bytes.
type BlockReport struct {
	Bytes       int             `json:"bytes"`
	VertexCount int             `json:"vertex_count"`
	IndexCount  int             `json:"index_count"`
	Vertices    geometry.Region `json:"vertices"`
	Normals     geometry.Region `json:"normals"`
	Indices     geometry.Region `json:"indices"`
	UVs         geometry.Region `json:"uvs"`
	Texture     geometry.Region `json:"texture"`
	BoundsMin   *[3]float32     `json:"bounds_min,omitempty"`
	BoundsMax   *[3]float32     `json:"bounds_max,omitempty"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.respond(w, r, version.GetInfo())
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.store.List())
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	stream, err := s.stream(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := stream.Info()
	if err != nil {
		s.writeError(w, r, notFound(err, "stream"))
		return
	}
	s.respond(w, r, info)
}

// handleGetFrame reports a frame's record. With decode=true the frame is
// decoded on a private handle, so the stream a player is reading from keeps
// its current block.
func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	stream, err := s.stream(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	n, err := strconv.Atoi(mux.Vars(r)["frame"])
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("frame must be an integer"))
		return
	}

	rec, err := stream.Record(n)
	if err != nil {
		s.writeError(w, r, withStream(notFound(err, "stream"), id))
		return
	}
	chain, err := stream.ChainLength(n)
	if err != nil {
		s.writeError(w, r, withStream(notFound(err, "stream"), id))
		return
	}
	resp := FrameResponse{FrameRecord: rec, Kind: rec.Kind.String(), ChainLength: chain}

	if decode, _ := strconv.ParseBool(r.URL.Query().Get("decode")); decode {
		report, err := s.decodeFrame(r.Context(), stream, n)
		if err != nil {
			s.writeError(w, r, withStream(err, id))
			return
		}
		resp.Block = report
	}
	s.respond(w, r, resp)
}

func (s *Server) decodeFrame(ctx context.Context, stream *geometry.Stream, n int) (*BlockReport, error) {
	info, err := stream.Info()
	if err != nil {
		return nil, notFound(err, "stream")
	}
	private, err := geometry.Open(ctx, "", info.HeaderPath, info.SequencePath, true)
	if err != nil {
		return nil, err
	}
	defer private.Close()

	if err := private.ReadFrame(n); err != nil {
		return nil, err
	}
	block, err := private.CurrentBlock()
	if err != nil {
		return nil, err
	}

	report := &BlockReport{
		Bytes:       len(block.Data),
		VertexCount: block.VertexCount(),
		IndexCount:  block.IndexCount(),
		Vertices:    block.Vertices,
		Normals:     block.Normals,
		Indices:     block.Indices,
		UVs:         block.UVs,
		Texture:     block.Texture,
	}
	if lo, hi, ok := block.Bounds(); ok {
		report.BoundsMin, report.BoundsMax = &lo, &hi
	}
	return report, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.respond(w, r, []*registry.Session{})
		return
	}
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeError(w, r, apperrors.WrapInternalError(err, "failed to list sessions"))
		return
	}
	if sessions == nil {
		sessions = []*registry.Session{}
	}
	s.respond(w, r, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.sessions == nil {
		s.writeError(w, r, apperrors.NewNotFoundError("session "+id))
		return
	}
	session, err := s.sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		s.writeError(w, r, apperrors.NewNotFoundError("session "+id))
	case err != nil:
		s.writeError(w, r, apperrors.WrapInternalError(err, "failed to get session"))
	default:
		s.respond(w, r, session)
	}
}

func (s *Server) stream(r *http.Request) (*geometry.Stream, error) {
	id := mux.Vars(r)["id"]
	stream, err := s.store.Get(id)
	if err != nil {
		return nil, apperrors.NewNotFoundError("stream " + id)
	}
	return stream, nil
}

// notFound maps a handle closed under the request to 404; other errors
// pass through.
func notFound(err error, what string) error {
	if errors.Is(err, apperrors.ErrInvalidHandle) {
		return apperrors.NewNotFoundError(what)
	}
	return err
}

// withStream tags a decoder error with the stream it came from.
func withStream(err error, id string) error {
	if appErr, ok := apperrors.GetAppError(err); ok {
		appErr.WithDetail("stream_id", id)
	}
	return err
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data interface{}) {
	if err := s.writeJSON(w, http.StatusOK, data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
