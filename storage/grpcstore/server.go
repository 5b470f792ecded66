package grpcstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/storage"
)

// DefaultReservationTTL bounds how long a created but unwritten region is
// held for a remote client before it is discarded.
const DefaultReservationTTL = 30 * time.Second

// Server exposes a storage.Store over the Store gRPC service.
//
// Every Create must carry the signed issuance request it allocates for. The
// server admits it with issuance.Admit and the reservation then accepts only
// the record that request produces. Without an Authorizer the service is
// read-only.
//
// Handles returned by the backing store are kept server-side under a random
// reservation id until the client writes or discards them, or the TTL fires.
type Server struct {
	UnimplementedStoreServer
	Store      storage.Store
	Authorizer issuance.Authorizer
	// ProgramID namespaces the addresses allocations must derive to.
	// Zero selects address.DefaultProgramID.
	ProgramID      address.Address
	ReservationTTL time.Duration
	Logger         *slog.Logger

	mu      sync.Mutex
	pending map[string]*reservation
}

type reservation struct {
	h      storage.Handle
	region []byte
	timer  *time.Timer
}

func (s *Server) programID() address.Address {
	if s.ProgramID.IsZero() {
		return address.DefaultProgramID
	}
	return s.ProgramID
}

// wireSize accepts only integral sizes within storage.MaxRegionSize.
func wireSize(v *structpb.Value) (int, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, storage.ErrInvalidSize
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f <= 0 || f > storage.MaxRegionSize {
		return 0, storage.ErrInvalidSize
	}
	return int(f), nil
}

func unauthorized(reason string) error {
	return status.Error(codes.PermissionDenied, reason)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) Exists(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	addr, err := address.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidAddress.Error())
	}
	ok, err := s.Store.Exists(ctx, addr)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) Read(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	addr, err := address.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidAddress.Error())
	}
	b, err := s.Store.Read(ctx, addr)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Create(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	if s.Authorizer == nil {
		return nil, unauthorized("store service is read-only")
	}
	f := in.GetFields()
	addr, err := address.Parse(f["address"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidAddress.Error())
	}
	payer, err := address.Parse(f["payer"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrMissingPayer.Error())
	}
	size, err := wireSize(f["size"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidSize.Error())
	}
	proofJSON := f["proof"].GetStringValue()
	if proofJSON == "" {
		return nil, unauthorized("missing issuance proof")
	}
	var proof authority.Proof
	if err := json.Unmarshal([]byte(proofJSON), &proof); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid proof encoding")
	}
	message, err := base64.StdEncoding.DecodeString(f["message"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid message encoding")
	}

	adm, err := issuance.Admit(s.Authorizer, s.programID(), addr, size, payer, message, proof)
	if err != nil {
		s.logger().Warn("allocation refused", "address", addr.String(), "rule", certerr.RuleID(err), "error", err)
		return nil, admitErr(err)
	}

	h, err := s.Store.Create(ctx, addr, size, payer)
	if err != nil {
		return nil, mapErr(err)
	}

	id := uuid.NewString()
	ttl := s.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string]*reservation)
	}
	s.pending[id] = &reservation{h: h, region: adm.Region, timer: time.AfterFunc(ttl, func() { s.expire(id) })}
	s.mu.Unlock()

	s.logger().Debug("region reserved", "address", addr.String(), "reservation", id, "issuer", adm.Grant.Issuer.String())
	return wrapperspb.String(id), nil
}

func admitErr(err error) error {
	switch {
	case certerr.IsKind(err, certerr.KindAuthorization):
		return unauthorized(err.Error())
	case errors.Is(err, storage.ErrInvalidSize):
		return status.Error(codes.InvalidArgument, storage.ErrInvalidSize.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}

func (s *Server) Write(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	f := in.GetFields()
	data, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid data encoding")
	}
	r := s.take(f["reservation"].GetStringValue())
	if r == nil {
		return nil, status.Error(codes.FailedPrecondition, storage.ErrHandleClosed.Error())
	}
	if len(data) > len(r.region) {
		_ = r.h.Discard(context.WithoutCancel(ctx))
		return nil, status.Error(codes.OutOfRange, storage.ErrRegionOverflow.Error())
	}
	if !bytes.Equal(storage.Pad(data, len(r.region)), r.region) {
		_ = r.h.Discard(context.WithoutCancel(ctx))
		s.logger().Warn("write refused", "address", r.h.Address().String())
		return nil, unauthorized("content is not the authorized record")
	}
	if err := r.h.Write(ctx, r.region); err != nil {
		_ = r.h.Discard(context.WithoutCancel(ctx))
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Discard(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	r := s.take(in.GetValue())
	if r == nil {
		return &emptypb.Empty{}, nil
	}
	if err := r.h.Discard(ctx); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	l, ok := s.Store.(storage.Lister)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "store does not support listing")
	}
	addrs, err := l.List(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	vals := make([]*structpb.Value, 0, len(addrs))
	for _, a := range addrs {
		vals = append(vals, structpb.NewStringValue(a.String()))
	}
	return &structpb.ListValue{Values: vals}, nil
}

// Close discards every outstanding reservation.
func (s *Server) Close() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, r := range pending {
		r.timer.Stop()
		_ = r.h.Discard(context.Background())
	}
}

func (s *Server) take(id string) *reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	r.timer.Stop()
	return r
}

func (s *Server) expire(id string) {
	r := s.take(id)
	if r == nil {
		return
	}
	s.logger().Warn("reservation expired", "address", r.h.Address().String(), "reservation", id)
	_ = r.h.Discard(context.Background())
}
