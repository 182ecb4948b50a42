package flight

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ActionHandler serves one named Flight action.
type ActionHandler func(ctx context.Context, body []byte) ([]byte, error)

// PutHandler receives the records of one DoPut stream. Records are released
// after the handler returns; retain them to keep them longer.
type PutHandler func(ctx context.Context, path []string, schema *arrow.Schema, recs []arrow.Record) error

// Server is a minimal Flight service dispatching actions by name and
// handing uploads to a PutHandler.
type Server struct {
	flight.BaseFlightServer

	mu      sync.RWMutex
	actions map[string]ActionHandler
	put     PutHandler

	srv flight.Server
}

func NewServer() *Server {
	return &Server{actions: make(map[string]ActionHandler)}
}

func (s *Server) HandleAction(name string, h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = h
}

func (s *Server) HandlePut(h PutHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put = h
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in
// the background.
func (s *Server) Start(addr string) error {
	s.srv = flight.NewServerWithMiddleware(nil)
	if err := s.srv.Init(addr); err != nil {
		return fmt.Errorf("flight server init: %w", err)
	}
	s.srv.RegisterFlightService(s)
	go s.srv.Serve()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr().String()
}

func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

func (s *Server) DoAction(act *flight.Action, stream flight.FlightService_DoActionServer) error {
	s.mu.RLock()
	h, ok := s.actions[act.Type]
	s.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.Unimplemented, "unknown action %q", act.Type)
	}

	out, err := h(stream.Context(), act.Body)
	if err != nil {
		return status.Errorf(codes.Internal, "%s: %v", act.Type, err)
	}
	return stream.Send(&flight.Result{Body: out})
}

func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	s.mu.RLock()
	h := s.put
	s.mu.RUnlock()
	if h == nil {
		return status.Error(codes.Unimplemented, "uploads not accepted")
	}

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read upload: %v", err)
	}
	defer rdr.Release()

	var path []string
	if desc := rdr.LatestFlightDescriptor(); desc != nil {
		path = desc.Path
	}

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return status.Errorf(codes.InvalidArgument, "read upload: %v", err)
	}

	if err := h(stream.Context(), path, rdr.Schema(), recs); err != nil {
		return status.Errorf(codes.Internal, "store upload: %v", err)
	}
	return nil
}
