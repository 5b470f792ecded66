package token

import (
	"context"
	"testing"
	"time"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/cidutil"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/storage/memstore"
)

func seed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b + byte(3*i)
	}
	return s
}

type fixture struct {
	svc *Service
	eng *issuance.Engine
	is  *issuance.Issued
}

func setup(t *testing.T, now *time.Time) fixture {
	t.Helper()
	svc, err := NewService(seed(1))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.TTL = time.Hour
	svc.Now = func() time.Time { return *now }

	eng := issuance.New(memstore.New(), authority.Verifier{}, issuance.Options{Minter: svc})
	signer, err := authority.NewSigner(seed(2))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	req := issuance.Request{
		InstitutionID: "MIT",
		CandidateID:   "ADA1",
		CandidateName: "Ada Lovelace",
		IssuedAt:      1700000000,
	}
	p, err := signer.Prove(req.SigningMessage())
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	is, err := eng.Issue(context.Background(), req, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if is.Token == "" {
		t.Fatalf("expected token on issued certificate")
	}
	return fixture{svc: svc, eng: eng, is: is}
}

func TestMintVerify(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)

	got, claims, err := f.svc.Verify(context.Background(), f.is.Token, f.eng)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Address != f.is.Address {
		t.Fatalf("address: got %s want %s", got.Address, f.is.Address)
	}
	if claims.Subject != f.is.Address.String() || claims.Issuer != f.svc.Attestor().String() {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestVerifyExpired(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)
	now = now.Add(2 * time.Hour)
	_, _, err := f.svc.Verify(context.Background(), f.is.Token, f.eng)
	if certerr.RuleID(err) != "CERT-TOKEN-001" {
		t.Fatalf("expected CERT-TOKEN-001, got %v", err)
	}
}

func TestVerifyWrongAttestor(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)
	other, err := NewService(seed(9))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, _, err := other.Verify(context.Background(), f.is.Token, f.eng); !certerr.IsKind(err, certerr.KindAuthorization) {
		t.Fatalf("expected Authorization error, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)
	if _, _, err := f.svc.Verify(context.Background(), "not.a.jwt", f.eng); certerr.RuleID(err) != "CERT-TOKEN-001" {
		t.Fatalf("expected CERT-TOKEN-001, got %v", err)
	}
}

type alteredFetcher struct {
	inner Fetcher
	alter func(*issuance.Issued)
}

func (a alteredFetcher) Fetch(ctx context.Context, addr address.Address) (*issuance.Issued, error) {
	is, err := a.inner.Fetch(ctx, addr)
	if err != nil {
		return nil, err
	}
	a.alter(is)
	return is, nil
}

func TestVerifyDetectsMismatch(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)
	other, err := cidutil.ContentCID([]byte("something else"))
	if err != nil {
		t.Fatalf("ContentCID: %v", err)
	}

	cases := map[string]func(*issuance.Issued){
		"issuer":    func(is *issuance.Issued) { is.Record.Issuer = f.svc.Attestor() },
		"candidate": func(is *issuance.Issued) { is.Record.CandidateID = "ADA2" },
		"cid":       func(is *issuance.Issued) { is.ContentCID = other },
	}
	for name, alter := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.svc.Verify(context.Background(), f.is.Token, alteredFetcher{inner: f.eng, alter: alter})
			if certerr.RuleID(err) != "CERT-TOKEN-003" {
				t.Fatalf("expected CERT-TOKEN-003, got %v", err)
			}
		})
	}
}

func TestVerifyMissingRecord(t *testing.T) {
	now := time.Unix(1800000000, 0)
	f := setup(t, &now)
	empty := issuance.New(memstore.New(), authority.Verifier{}, issuance.Options{})
	if _, _, err := f.svc.Verify(context.Background(), f.is.Token, empty); !certerr.IsKind(err, certerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
