// Package issuance allocates certificate records at deterministic addresses,
// exactly once per (institution id, candidate id, issued at).
//
// The engine holds no mutable state. Exclusivity comes from the store's
// atomic create-if-absent, so any number of engines may share one store.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/cidutil"
	"xdao.co/certledger/record"
	"xdao.co/certledger/storage"
)

// Authorizer validates an authority proof over a signing message.
// authority.Verifier implements it.
type Authorizer interface {
	Verify(message []byte, p authority.Proof) (authority.Grant, error)
}

// Minter issues a verification token for a freshly written certificate.
type Minter interface {
	Mint(is *Issued) (string, error)
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	// ProgramID namespaces derived addresses. Zero selects address.DefaultProgramID.
	ProgramID address.Address
	Logger    *slog.Logger
	// Minter, when set, attaches a token to every Issue result.
	Minter Minter
}

func (o Options) withDefaults() Options {
	if o.ProgramID.IsZero() {
		o.ProgramID = address.DefaultProgramID
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Issued is a certificate as stored at its address.
type Issued struct {
	Address    address.Address     `json:"address"`
	Bump       uint8               `json:"bump"`
	Record     *record.Certificate `json:"record"`
	ContentCID cid.Cid             `json:"-"`
	Token      string              `json:"token,omitempty"`
}

type Engine struct {
	store storage.Store
	auth  Authorizer
	opts  Options
}

func New(store storage.Store, auth Authorizer, opts Options) *Engine {
	return &Engine{store: store, auth: auth, opts: opts.withDefaults()}
}

func (e *Engine) ProgramID() address.Address { return e.opts.ProgramID }

// DeriveAddress returns the address for an issuance key. It is a pure function
// of the key and the engine's program ID.
func (e *Engine) DeriveAddress(institutionID, candidateID string, issuedAt int64) (address.Address, uint8, error) {
	addr, bump, err := address.DeriveCertificate(e.opts.ProgramID, institutionID, candidateID, issuedAt)
	switch {
	case err == nil:
		return addr, bump, nil
	case errors.Is(err, address.ErrMaxSeedLength):
		return address.Zero, 0, certerr.Wrap(certerr.KindInputTooLarge, "CERT-ADDR-001", err.Error(), err)
	default:
		return address.Zero, 0, certerr.Wrap(certerr.KindInternal, "CERT-ADDR-002", "issuance: address derivation failed", err)
	}
}

// Allocate admits the allocation against the signed request in message (see
// Admit) and creates a zeroed region of size bytes at addr.
//
// Stores that check the authority themselves receive message and proof.
// The returned handle must end in Write or Discard.
func (e *Engine) Allocate(ctx context.Context, addr address.Address, size int, payer address.Address, message []byte, proof authority.Proof) (storage.Handle, *Admission, error) {
	adm, err := Admit(e.auth, e.opts.ProgramID, addr, size, payer, message, proof)
	if err != nil {
		return nil, nil, err
	}
	var h storage.Handle
	if ac, ok := e.store.(storage.AuthorizingCreator); ok {
		h, err = ac.CreateAuthorized(ctx, addr, size, payer, storage.Authorization{Message: message, Proof: proof})
	} else {
		h, err = e.store.Create(ctx, addr, size, payer)
	}
	if err != nil {
		return nil, nil, allocErr(addr, err)
	}
	return h, adm, nil
}

func allocErr(addr address.Address, err error) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return certerr.Wrap(certerr.KindAlreadyExists, "CERT-ALLOC-001",
			fmt.Sprintf("issuance: certificate already exists at %s", addr), err)
	case errors.Is(err, storage.ErrInvalidAddress),
		errors.Is(err, storage.ErrMissingPayer),
		errors.Is(err, storage.ErrInvalidSize):
		return certerr.Wrap(certerr.KindInvalidInput, "CERT-ALLOC-005", err.Error(), err)
	case errors.Is(err, storage.ErrUnauthorized):
		return certerr.Wrap(certerr.KindAuthorization, "CERT-ALLOC-008", "issuance: store refused the allocation", err)
	default:
		return certerr.Wrap(certerr.KindStorage, "CERT-ALLOC-002", "issuance: allocation failed", err)
	}
}

// Issue validates req, verifies proof, allocates the derived address and
// writes the record with the verified authority stamped as issuer.
//
// Either the record is fully written or nothing is left at the address.
func (e *Engine) Issue(ctx context.Context, req Request, proof authority.Proof) (*Issued, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	addr, bump, err := e.DeriveAddress(req.InstitutionID, req.CandidateID, req.IssuedAt)
	if err != nil {
		return nil, err
	}
	payer := proof.Payer
	if payer.IsZero() {
		payer = proof.Authority
	}

	size := record.RequiredSize()
	h, adm, err := e.Allocate(ctx, addr, size, payer, req.SigningMessage(), proof)
	if err != nil {
		if certerr.IsKind(err, certerr.KindAlreadyExists) {
			e.opts.Logger.Debug("duplicate issuance rejected", "address", addr.String())
		}
		return nil, err
	}

	contentCID, err := cidutil.ContentCID(adm.Region)
	if err != nil {
		return nil, e.abandon(ctx, h, certerr.Wrap(certerr.KindInternal, "CERT-ISSUE-002", "issuance: content cid", err))
	}
	if err := h.Write(ctx, adm.Region); err != nil {
		return nil, e.abandon(ctx, h, certerr.Wrap(certerr.KindStorage, "CERT-ISSUE-001", "issuance: write failed", err))
	}

	out := &Issued{Address: addr, Bump: bump, Record: adm.Request.Certificate(adm.Grant.Issuer), ContentCID: contentCID}
	e.opts.Logger.Debug("certificate issued",
		"address", addr.String(),
		"issuer", adm.Grant.Issuer.String(),
		"cid", contentCID.String())

	if e.opts.Minter != nil {
		tok, err := e.opts.Minter.Mint(out)
		if err != nil {
			// The record is committed; it is returned without a token.
			e.opts.Logger.Warn("certificate issued without token", "address", addr.String(), "err", err)
			return out, nil
		}
		out.Token = tok
	}
	return out, nil
}

func (e *Engine) abandon(ctx context.Context, h storage.Handle, cause error) error {
	if err := h.Discard(context.WithoutCancel(ctx)); err != nil {
		e.opts.Logger.Warn("discard after failed issuance", "address", h.Address().String(), "err", err)
	}
	return cause
}

// Fetch reads and decodes the certificate at addr.
//
// The decoded key must derive back to addr, so a region copied under the
// wrong address is reported as corrupt.
func (e *Engine) Fetch(ctx context.Context, addr address.Address) (*Issued, error) {
	data, err := e.store.Read(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, certerr.Wrap(certerr.KindNotFound, "CERT-FETCH-001",
				fmt.Sprintf("issuance: no certificate at %s", addr), err)
		}
		return nil, certerr.Wrap(certerr.KindStorage, "CERT-FETCH-002", "issuance: read failed", err)
	}
	cert, err := record.Decode(data)
	if err != nil {
		return nil, err
	}
	want, bump, err := e.DeriveAddress(cert.InstitutionID, cert.CandidateID, cert.IssuedAt)
	if err != nil {
		return nil, certerr.Wrap(certerr.KindDecoding, "CERT-FETCH-003", "issuance: stored key is not derivable", err)
	}
	if want != addr {
		return nil, certerr.New(certerr.KindDecoding, "CERT-FETCH-003",
			fmt.Sprintf("issuance: record at %s belongs at %s", addr, want))
	}
	contentCID, err := cidutil.ContentCID(data)
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInternal, "CERT-ISSUE-002", "issuance: content cid", err)
	}
	return &Issued{Address: addr, Bump: bump, Record: cert, ContentCID: contentCID}, nil
}

// Lookup fetches the certificate for an issuance key.
func (e *Engine) Lookup(ctx context.Context, institutionID, candidateID string, issuedAt int64) (*Issued, error) {
	addr, _, err := e.DeriveAddress(institutionID, candidateID, issuedAt)
	if err != nil {
		return nil, err
	}
	return e.Fetch(ctx, addr)
}

// Status reports the derived address for a key and whether it is taken.
// An address reserved by an in-flight issuance counts as taken.
func (e *Engine) Status(ctx context.Context, institutionID, candidateID string, issuedAt int64) (address.Address, bool, error) {
	addr, _, err := e.DeriveAddress(institutionID, candidateID, issuedAt)
	if err != nil {
		return address.Zero, false, err
	}
	ok, err := e.store.Exists(ctx, addr)
	if err != nil {
		return addr, false, certerr.Wrap(certerr.KindStorage, "CERT-FETCH-002", "issuance: exists failed", err)
	}
	return addr, ok, nil
}

// ErrListUnsupported is returned by List when the store cannot enumerate.
var ErrListUnsupported = certerr.New(certerr.KindInvalidInput, "CERT-LIST-001", "issuance: store does not support listing")

// List returns written certificate addresses in ascending byte order.
func (e *Engine) List(ctx context.Context) ([]address.Address, error) {
	l, ok := e.store.(storage.Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	addrs, err := l.List(ctx)
	if err != nil {
		return nil, certerr.Wrap(certerr.KindStorage, "CERT-LIST-002", "issuance: list failed", err)
	}
	return addrs, nil
}
