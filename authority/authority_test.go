package authority

import (
	"errors"
	"testing"

	"xdao.co/certledger/address"
	"xdao.co/certledger/certerr"
)

func seed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b + byte(i)
	}
	return s
}

func mustSigner(t *testing.T, b byte) *Signer {
	t.Helper()
	s, err := NewSigner(seed(b))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestVerifySelfPaid(t *testing.T) {
	s := mustSigner(t, 1)
	msg := []byte("issue MIT/ADA1")
	p, err := s.Prove(msg)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	g, err := Verifier{}.Verify(msg, p)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if g.Issuer != s.Identity() || g.Payer != s.Identity() {
		t.Fatalf("unexpected grant %+v", g)
	}
}

func TestVerifyHashAlgorithms(t *testing.T) {
	for _, alg := range []string{"sha256", "sha512", "sha3-256"} {
		t.Run(alg, func(t *testing.T) {
			s := mustSigner(t, 2)
			s.HashAlg = alg
			msg := []byte("message")
			p, err := s.Prove(msg)
			if err != nil {
				t.Fatalf("Prove: %v", err)
			}
			if _, err := (Verifier{}).Verify(msg, p); err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}

	s := mustSigner(t, 2)
	s.HashAlg = "md5"
	if _, err := s.Prove([]byte("m")); certerr.RuleID(err) != "CERT-AUTH-003" {
		t.Fatalf("expected CERT-AUTH-003, got %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	s := mustSigner(t, 3)
	other := mustSigner(t, 4)
	msg := []byte("original")
	good, err := s.Prove(msg)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	cases := []struct {
		name  string
		msg   []byte
		proof func() Proof
		rule  string
	}{
		{"tampered-message", []byte("tampered"), func() Proof { return good }, "CERT-AUTH-002"},
		{"missing-authority", msg, func() Proof { p := good; p.Authority = address.Zero; return p }, "CERT-AUTH-001"},
		{"impersonation", msg, func() Proof { p := good; p.Authority = other.Identity(); return p }, "CERT-AUTH-002"},
		{"short-signature", msg, func() Proof { p := good; p.Signature = p.Signature[:10]; return p }, "CERT-AUTH-002"},
		{"hash-alg-switched", msg, func() Proof { p := good; p.HashAlg = "sha512"; return p }, "CERT-AUTH-002"},
		{"payer-without-signature", msg, func() Proof { p := good; p.Payer = other.Identity(); return p }, "CERT-AUTH-004"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verifier{}.Verify(tc.msg, tc.proof())
			if !certerr.IsKind(err, certerr.KindAuthorization) {
				t.Fatalf("expected Authorization error, got %v", err)
			}
			if got := certerr.RuleID(err); got != tc.rule {
				t.Fatalf("RuleID: got %s want %s", got, tc.rule)
			}
		})
	}
}

func TestVerifyPayerCoSignature(t *testing.T) {
	auth := mustSigner(t, 5)
	payer := mustSigner(t, 6)
	msg := []byte("issue with sponsor")

	p, err := auth.Prove(msg)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if err := payer.CoSign(&p, msg); err != nil {
		t.Fatalf("CoSign: %v", err)
	}
	g, err := Verifier{}.Verify(msg, p)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if g.Issuer != auth.Identity() || g.Payer != payer.Identity() {
		t.Fatalf("unexpected grant %+v", g)
	}

	// The authority signature cannot be replayed as the payer's consent.
	forged := p
	forged.PayerSignature = p.Signature
	if _, err := (Verifier{}).Verify(msg, forged); certerr.RuleID(err) != "CERT-AUTH-004" {
		t.Fatalf("expected CERT-AUTH-004 for replayed signature, got %v", err)
	}
}

func TestVerifyPolicy(t *testing.T) {
	s := mustSigner(t, 7)
	msg := []byte("m")
	p, err := s.Prove(msg)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	denied := errors.New("not on the list")
	v := Verifier{Policy: func(g Grant) error {
		if g.Issuer == s.Identity() {
			return denied
		}
		return nil
	}}
	_, err = v.Verify(msg, p)
	if certerr.RuleID(err) != "CERT-AUTH-005" || !errors.Is(err, denied) {
		t.Fatalf("expected policy rejection wrapping cause, got %v", err)
	}
}

func TestNewSignerSeedLength(t *testing.T) {
	if _, err := NewSigner([]byte("short")); err == nil {
		t.Fatalf("expected error for short seed")
	}
}
