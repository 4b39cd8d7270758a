package grpcnode

import (
	"context"
	"strconv"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/pinfetch/store"
)

// Server exposes a store.Node over the Node gRPC service.
type Server struct {
	UnimplementedNodeServer
	Node store.Node

	// AllowStop lets clients stop the served node.
	AllowStop bool

	Log *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) Stat(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s == nil || s.Node == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing node")
	}
	id, err := validate(in.GetValue())
	if err != nil {
		return nil, err
	}
	st, err := s.Node.Stat(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if st == nil {
		return nil, status.Error(codes.NotFound, store.ErrNotFound.Error())
	}
	return encodeStat(st), nil
}

func (s *Server) Cat(in *wrapperspb.StringValue, out Node_CatServer) error {
	if s == nil || s.Node == nil {
		return status.Error(codes.FailedPrecondition, "missing node")
	}
	id, err := validate(in.GetValue())
	if err != nil {
		return err
	}
	ctx := out.Context()
	stream, err := s.Node.Cat(ctx, id)
	if err != nil {
		return mapErr(err)
	}
	defer stream.Close()

	for {
		step, err := stream.Next(ctx)
		if err != nil {
			s.log().Debug("cat stream failed", zap.String("cid", id), zap.Error(err))
			return mapErr(err)
		}
		if step.Done {
			return nil
		}
		if step.Empty() {
			return status.Error(codes.Aborted, errEmptyStep)
		}
		if err := out.Send(wrapperspb.Bytes(step.Chunk)); err != nil {
			return err
		}
	}
}

func (s *Server) Add(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Node == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing node")
	}
	id, err := s.Node.Add(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(id), nil
}

func (s *Server) Pin(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if s == nil || s.Node == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing node")
	}
	id, err := validate(in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.Node.Pin(ctx, id); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s == nil || s.Node == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing node")
	}
	if !s.AllowStop {
		return nil, status.Error(codes.PermissionDenied, "remote stop disabled")
	}
	s.log().Info("stopping node on client request")
	if err := s.Node.Stop(ctx); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func validate(s string) (string, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return "", status.Error(codes.InvalidArgument, store.ErrInvalidCID.Error())
	}
	return id.String(), nil
}

func encodeStat(st *store.ObjectStat) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"cid":  structpb.NewStringValue(st.CID),
		"type": structpb.NewStringValue(st.Type.String()),
	}
	if st.HasDataSize {
		// structpb numbers are float64; sizes travel as decimal strings.
		fields["data_size"] = structpb.NewStringValue(strconv.FormatInt(st.DataSize, 10))
	}
	return &structpb.Struct{Fields: fields}
}

func decodeStat(s *structpb.Struct) *store.ObjectStat {
	if s == nil {
		return nil
	}
	f := s.GetFields()
	st := &store.ObjectStat{
		CID:  f["cid"].GetStringValue(),
		Type: store.ParseObjectType(f["type"].GetStringValue()),
	}
	if v, ok := f["data_size"]; ok {
		if n, err := strconv.ParseInt(v.GetStringValue(), 10, 64); err == nil && n >= 0 {
			st.DataSize = n
			st.HasDataSize = true
		}
	}
	return st
}
