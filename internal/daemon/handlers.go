package daemon

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/rpc"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Query handles the Query RPC. The reply tells whether a new search started.
func (s *Server) Query(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	s.requests.Add(1)
	return wrapperspb.Bool(s.broker.Query(req.GetValue())), nil
}

// GetSources handles the GetSources RPC.
func (s *Server) GetSources(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	s.requests.Add(1)

	sources := s.broker.GetSources()
	tuples := make([]search.SourceTuple, len(sources))
	for i, src := range sources {
		tuples[i] = src.Serialize()
	}
	return rpc.SourcesToList(tuples), nil
}

// GetLastResults handles the GetLastResults RPC.
func (s *Server) GetLastResults(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.requests.Add(1)
	return rpc.LastResultsToStruct(s.broker.GetLastResults(), s.logger), nil
}

// ActivateResult handles the ActivateResult RPC. Provider failures are
// logged by the broker and never reach the caller.
func (s *Server) ActivateResult(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.requests.Add(1)

	r, err := rpc.ParseActivateRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if r.ResultID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %q", rpc.FieldResultID)
	}
	s.broker.ActivateResult(r.SourceID, r.ResultID, r.Timestamp)
	return &emptypb.Empty{}, nil
}

// LaunchSource handles the LaunchSource RPC.
func (s *Server) LaunchSource(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.requests.Add(1)

	r, err := rpc.ParseActivateRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.broker.LaunchSource(r.SourceID, r.Timestamp)
	return &emptypb.Empty{}, nil
}

// GetStatus handles the GetStatus RPC.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.requests.Add(1)
	return rpc.StatusToStruct(s.broker.Status(), Version, int64(s.Uptime().Seconds()), s.RequestsServed(), s.Subscribers()), nil
}

// Subscribe streams broker events until the client goes away or the server
// shuts down. A subscriber that falls more than the buffer behind is
// disconnected with ResourceExhausted rather than stalling the broker.
func (s *Server) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	events := make(chan broker.Event, s.subscriberBuffer)
	overflow := make(chan struct{})
	overflowed := false

	unsubscribe := s.broker.Subscribe(func(ev broker.Event) {
		// Listener calls are serialized by the broker.
		if overflowed {
			return
		}
		select {
		case events <- ev:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	// Headers tell the client the subscription is in place, so a Query
	// sent after they arrive cannot miss its events.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	s.subscribers.Add(1)
	defer s.subscribers.Add(-1)
	s.logger.Debug("subscriber connected", "subscribers", s.Subscribers())

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("subscriber disconnected")
			return nil
		case <-s.shutdownChan:
			return nil
		case <-overflow:
			s.logger.Warn("dropping slow subscriber", "buffer", s.subscriberBuffer)
			return status.Error(codes.ResourceExhausted, "subscriber fell behind")
		case ev := <-events:
			msg, err := rpc.EventToStruct(ev, s.logger)
			if err != nil {
				s.logger.Warn("failed to encode event", "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
