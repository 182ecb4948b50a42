package model

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/flight"
	"github.com/23skdu/longbow-hesitation/internal/logger"
)

var negInf = float32(math.Inf(-1))

func isMasked(v float32) bool { return math.IsInf(float64(v), -1) }

// Backend is a model usable in-process.
type Backend interface {
	decoding.Encoder
	decoding.Predictor
}

// Server exposes a Backend through the encode and decode Flight actions
// understood by Remote. Encodings are kept server side, keyed by handle.
type Server struct {
	backend Backend

	mu        sync.Mutex
	encodings map[string]decoding.Encoding
	next      int
}

func NewServer(b Backend) *Server {
	return &Server{backend: b, encodings: make(map[string]decoding.Encoding)}
}

// Register installs the action handlers on a Flight server.
func (s *Server) Register(fs *flight.Server) {
	fs.HandleAction(ActionEncode, s.encode)
	fs.HandleAction(ActionDecode, s.decode)
}

// Forget drops a cached encoding.
func (s *Server) Forget(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.encodings, handle)
}

func (s *Server) encode(ctx context.Context, body []byte) ([]byte, error) {
	var req encodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("bad encode request: %w", err)
	}
	enc, err := s.backend.Encode(ctx, req.Src)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.next++
	handle := fmt.Sprintf("enc-%d", s.next)
	s.encodings[handle] = enc
	s.mu.Unlock()

	logger.Log.Debug("Encoded source", "handle", handle, "length", enc.Length)
	return json.Marshal(encodeResponse{
		BatchSize: enc.BatchSize,
		Length:    enc.Length,
		Dim:       enc.Dim,
		Handle:    handle,
	})
}

func (s *Server) decode(ctx context.Context, body []byte) ([]byte, error) {
	var req decodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("bad decode request: %w", err)
	}

	s.mu.Lock()
	enc, ok := s.encodings[req.Handle]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown encoding handle %q", req.Handle)
	}

	scores, err := s.backend.Predict(ctx, req.History, enc)
	if err != nil {
		return nil, err
	}
	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 1) {
			return nil, fmt.Errorf("score %d is %v", i, v)
		}
	}
	return json.Marshal(decodeResponse{Logits: packScores(scores)})
}
