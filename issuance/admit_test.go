package issuance

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/record"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/memstore"
)

func TestParseSigningMessageRoundTrip(t *testing.T) {
	for _, uri := range []*string{nil, record.StringPtr(""), record.StringPtr("https://example.edu/c/1")} {
		req := adaRequest()
		req.URI = uri
		req.IssuedAt = -42
		got, err := ParseSigningMessage(req.SigningMessage())
		if err != nil {
			t.Fatalf("ParseSigningMessage: %v", err)
		}
		if !bytes.Equal(got.SigningMessage(), req.SigningMessage()) {
			t.Fatalf("round trip changed the request: %+v", got)
		}
		if (got.URI == nil) != (uri == nil) {
			t.Fatalf("uri presence lost")
		}
	}
}

func TestParseSigningMessageRejects(t *testing.T) {
	msg := adaRequest().SigningMessage()
	cases := map[string][]byte{
		"empty":     nil,
		"prefix":    append([]byte("certledger-issue-v2\n"), msg[len(MessagePrefix):]...),
		"truncated": msg[:len(msg)-3],
		"trailing":  append(append([]byte{}, msg...), 0),
		"flag":      append(append([]byte{}, msg[:len(msg)-1]...), 2),
	}
	for name, b := range cases {
		if _, err := ParseSigningMessage(b); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAdmit(t *testing.T) {
	s := newSigner(t, 30)
	req := adaRequest()
	msg := req.SigningMessage()
	proof := prove(t, s, req)
	size := record.RequiredSize()
	addr, _, err := address.DeriveCertificate(address.DefaultProgramID, req.InstitutionID, req.CandidateID, req.IssuedAt)
	if err != nil {
		t.Fatalf("DeriveCertificate: %v", err)
	}

	adm, err := Admit(authority.Verifier{}, address.DefaultProgramID, addr, size, s.Identity(), msg, proof)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	want, _ := record.Encode(req.Certificate(s.Identity()))
	if !bytes.Equal(adm.Region, storage.Pad(want, size)) || adm.Grant.Issuer != s.Identity() {
		t.Fatalf("unexpected admission %+v", adm.Grant)
	}

	other, _, _ := address.DeriveCertificate(address.DefaultProgramID, "MIT", "ADA2", req.IssuedAt)
	rejects := []struct {
		name   string
		auth   Authorizer
		addr   address.Address
		size   int
		payer  address.Address
		msg    []byte
		kind   certerr.Kind
		ruleID string
	}{
		{"no authorizer", nil, addr, size, s.Identity(), msg, certerr.KindAuthorization, "CERT-ALLOC-004"},
		{"other address", authority.Verifier{}, other, size, s.Identity(), msg, certerr.KindAuthorization, "CERT-ALLOC-007"},
		{"wrong size", authority.Verifier{}, addr, size + 1, s.Identity(), msg, certerr.KindInvalidInput, "CERT-ALLOC-005"},
		{"payer", authority.Verifier{}, addr, size, newSigner(t, 31).Identity(), msg, certerr.KindAuthorization, "CERT-ALLOC-003"},
		{"garbage message", authority.Verifier{}, addr, size, s.Identity(), []byte("hello"), certerr.KindInvalidInput, "CERT-ALLOC-006"},
	}
	for _, tc := range rejects {
		_, err := Admit(tc.auth, address.DefaultProgramID, tc.addr, tc.size, tc.payer, tc.msg, proof)
		if !certerr.IsKind(err, tc.kind) || certerr.RuleID(err) != tc.ruleID {
			t.Fatalf("%s: got %v (%s), want %s/%s", tc.name, err, certerr.RuleID(err), tc.kind, tc.ruleID)
		}
	}

	otherProgram := newSigner(t, 32).Identity()
	if _, err := Admit(authority.Verifier{}, otherProgram, addr, size, s.Identity(), msg, proof); certerr.RuleID(err) != "CERT-ALLOC-007" {
		t.Fatalf("address under another program id: got %v", err)
	}
}

// authorizingStore records the authorization each allocation carries.
type authorizingStore struct {
	storage.Store
	got []storage.Authorization
}

func (a *authorizingStore) CreateAuthorized(ctx context.Context, addr address.Address, size int, payer address.Address, auth storage.Authorization) (storage.Handle, error) {
	a.got = append(a.got, auth)
	return a.Store.Create(ctx, addr, size, payer)
}

func (a *authorizingStore) Create(context.Context, address.Address, int, address.Address) (storage.Handle, error) {
	return nil, storage.ErrUnauthorized
}

func TestIssuePassesAuthorizationToStore(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t, 33)
	req := adaRequest()
	proof := prove(t, s, req)

	st := &authorizingStore{Store: memstore.New()}
	if _, err := New(st, authority.Verifier{}, Options{}).Issue(ctx, req, proof); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(st.got) != 1 || !bytes.Equal(st.got[0].Message, req.SigningMessage()) || st.got[0].Proof.Authority != s.Identity() {
		t.Fatalf("store did not receive the signed request: %+v", st.got)
	}

	refusing := struct{ storage.Store }{st}
	req.CandidateID = "ADA2"
	_, err := New(refusing, authority.Verifier{}, Options{}).Issue(ctx, req, prove(t, s, req))
	if !certerr.IsKind(err, certerr.KindAuthorization) || certerr.RuleID(err) != "CERT-ALLOC-008" {
		t.Fatalf("refused allocation: got %v", err)
	}
}
