package grpcstore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/record"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/memstore"
	"xdao.co/certledger/storage/testkit"
)

func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	RegisterStoreServer(gs, srv)

	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(func() {
		gs.Stop()
		srv.Close()
	})

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })

	client := NewClient(cc)
	client.Timeout = 2 * time.Second
	return client
}

func newSigner(t *testing.T, b byte) *authority.Signer {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b + byte(i)
	}
	s, err := authority.NewSigner(seed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func adaRequest(candidateID string) issuance.Request {
	return issuance.Request{
		InstitutionID:   "MIT",
		InstitutionName: "Massachusetts Institute of Technology",
		CandidateID:     candidateID,
		CandidateName:   "Ada Lovelace",
		IssuedAt:        1700000000,
		Description:     "Analytical Engine",
	}
}

// signed returns the derived address of req and the authorization s gives it.
func signed(t *testing.T, s *authority.Signer, req issuance.Request) (address.Address, storage.Authorization) {
	t.Helper()
	addr, _, err := address.DeriveCertificate(address.DefaultProgramID, req.InstitutionID, req.CandidateID, req.IssuedAt)
	if err != nil {
		t.Fatalf("DeriveCertificate: %v", err)
	}
	msg := req.SigningMessage()
	p, err := s.Prove(msg)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	return addr, storage.Authorization{Message: msg, Proof: p}
}

func newWritableServer(st storage.Store) *Server {
	return &Server{Store: st, Authorizer: authority.Verifier{}}
}

func TestGRPCStore_IssueThroughEngine(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	client := startServer(t, newWritableServer(backing))
	eng := issuance.New(client, authority.Verifier{}, issuance.Options{})
	s := newSigner(t, 1)

	req := adaRequest("ADA1")
	_, auth := signed(t, s, req)
	is, err := eng.Issue(ctx, req, auth.Proof)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := eng.Fetch(ctx, is.Address)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Record.Issuer != s.Identity() || !got.Record.Equal(is.Record) {
		t.Fatalf("fetched record differs: %+v", got.Record)
	}
	if ok, err := client.Exists(ctx, is.Address); err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	addrs, err := client.List(ctx)
	if err != nil || len(addrs) != 1 || addrs[0] != is.Address {
		t.Fatalf("List: %v %v", addrs, err)
	}

	_, err = eng.Issue(ctx, req, auth.Proof)
	if !certerr.IsKind(err, certerr.KindAlreadyExists) || !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestGRPCStore_CreateRequiresSignedRequest(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	client := startServer(t, newWritableServer(backing))
	s := newSigner(t, 2)
	size := record.RequiredSize()

	addr, auth := signed(t, s, adaRequest("ADA1"))
	if _, err := client.Create(ctx, addr, size, s.Identity()); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("Create without proof: got %v want ErrUnauthorized", err)
	}

	// A proof for one key does not open the address of another.
	other, _ := signed(t, s, adaRequest("ADA2"))
	if _, err := client.CreateAuthorized(ctx, other, size, s.Identity(), auth); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("Create at foreign address: got %v want ErrUnauthorized", err)
	}

	// Claiming another identity's authority without its key.
	victim := newSigner(t, 3)
	forged := auth
	forged.Proof.Authority = victim.Identity()
	if _, err := client.CreateAuthorized(ctx, addr, size, victim.Identity(), forged); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("impersonation: got %v want ErrUnauthorized", err)
	}

	if _, err := client.CreateAuthorized(ctx, addr, size, newSigner(t, 4).Identity(), auth); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("unconsenting payer: got %v want ErrUnauthorized", err)
	}

	for _, a := range []address.Address{addr, other} {
		if ok, _ := backing.Exists(ctx, a); ok {
			t.Fatalf("refused create left %s allocated", a)
		}
	}
}

func TestGRPCStore_WriteAcceptsOnlyAuthorizedRecord(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	client := startServer(t, newWritableServer(backing))
	size := record.RequiredSize()

	mallory := newSigner(t, 5)
	victim := newSigner(t, 6)
	req := adaRequest("ADA")
	addr, auth := signed(t, mallory, req)

	h, err := client.CreateAuthorized(ctx, addr, size, mallory.Identity(), auth)
	if err != nil {
		t.Fatalf("CreateAuthorized: %v", err)
	}
	forged := req
	forged.CandidateName = "Mallory"
	data, err := record.Encode(forged.Certificate(victim.Identity()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := h.Write(ctx, storage.Pad(data, size)); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("forged write: got %v want ErrUnauthorized", err)
	}
	if ok, _ := backing.Exists(ctx, addr); ok {
		t.Fatalf("forged write left the address allocated")
	}

	// The genuine issuance is still possible afterwards.
	eng := issuance.New(client, authority.Verifier{}, issuance.Options{})
	_, vauth := signed(t, victim, req)
	is, err := eng.Issue(ctx, req, vauth.Proof)
	if err != nil {
		t.Fatalf("Issue after refused write: %v", err)
	}
	if is.Record.Issuer != victim.Identity() {
		t.Fatalf("issuer: %s", is.Record.Issuer)
	}
}

func TestGRPCStore_ReadOnlyWithoutAuthorizer(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, &Server{Store: memstore.New()})
	s := newSigner(t, 7)
	addr, auth := signed(t, s, adaRequest("ADA1"))
	if _, err := client.CreateAuthorized(ctx, addr, record.RequiredSize(), s.Identity(), auth); !errors.Is(err, storage.ErrUnauthorized) {
		t.Fatalf("read-only server: got %v want ErrUnauthorized", err)
	}
	if _, err := client.Read(ctx, addr); !storage.IsNotFound(err) {
		t.Fatalf("Read: got %v want ErrNotFound", err)
	}
}

func TestGRPCStore_RejectsBadSizeOnWire(t *testing.T) {
	client := startServer(t, newWritableServer(memstore.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := newSigner(t, 8)
	addr, _ := signed(t, s, adaRequest("ADA1"))
	sizes := []*structpb.Value{
		structpb.NewNumberValue(float64(1 << 62)),
		structpb.NewNumberValue(1.5),
		structpb.NewNumberValue(-1),
		structpb.NewNumberValue(float64(storage.MaxRegionSize + 1)),
		structpb.NewStringValue("593"),
		nil,
	}
	for i, size := range sizes {
		fields := map[string]*structpb.Value{
			"address": structpb.NewStringValue(addr.String()),
			"payer":   structpb.NewStringValue(s.Identity().String()),
		}
		if size != nil {
			fields["size"] = size
		}
		_, err := client.client.Create(ctx, &structpb.Struct{Fields: fields})
		if status.Code(err) != codes.InvalidArgument || mapRPC(err) != storage.ErrInvalidSize {
			t.Fatalf("size %d: got %v want InvalidArgument ErrInvalidSize", i, err)
		}
	}

	// The service is still up.
	if _, err := client.Exists(ctx, addr); err != nil {
		t.Fatalf("Exists after bad sizes: %v", err)
	}
}

func TestGRPCStore_ReservationExpires(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	srv := newWritableServer(backing)
	srv.ReservationTTL = 50 * time.Millisecond
	client := startServer(t, srv)
	s := newSigner(t, 9)
	addr, auth := signed(t, s, adaRequest("ADA1"))
	size := record.RequiredSize()

	h, err := client.CreateAuthorized(ctx, addr, size, s.Identity(), auth)
	if err != nil {
		t.Fatalf("CreateAuthorized: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, err := backing.Exists(ctx, addr)
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reservation was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := h.Write(ctx, []byte("late")); err != storage.ErrHandleClosed {
		t.Fatalf("Write after expiry: got %v want ErrHandleClosed", err)
	}
	if _, err := client.CreateAuthorized(ctx, addr, size, s.Identity(), auth); err != nil {
		t.Fatalf("Create after expiry: %v", err)
	}
}

func TestGRPCStore_InvalidAddressOnWire(t *testing.T) {
	client := startServer(t, newWritableServer(memstore.New()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.client.Read(ctx, wrapperspb.String(""))
	if mapRPC(err) != storage.ErrInvalidAddress {
		t.Fatalf("got %v want ErrInvalidAddress", mapRPC(err))
	}
	if _, err := client.Create(ctx, address.Zero, 8, testkit.Addr(2)); err != storage.ErrInvalidAddress {
		t.Fatalf("zero address: got %v", err)
	}
}
