package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/keys"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/storeconfig"
	"xdao.co/certledger/storage/storeregistry"
)

// optString records whether the flag was given, so an empty --uri is distinct
// from an absent one.
type optString struct {
	v   string
	set bool
}

func (o *optString) String() string { return o.v }

func (o *optString) Set(s string) error {
	o.v, o.set = s, true
	return nil
}

type requestFlags struct {
	institutionID   string
	institutionName string
	candidateID     string
	candidateName   string
	issuedAt        int64
	description     string
	uri             optString
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.institutionID, "institution-id", "", "Institution identifier (part of the address key)")
	fs.StringVar(&r.institutionName, "institution-name", "", "Institution display name")
	fs.StringVar(&r.candidateID, "candidate-id", "", "Candidate identifier (part of the address key)")
	fs.StringVar(&r.candidateName, "candidate-name", "", "Candidate display name")
	fs.Int64Var(&r.issuedAt, "issued-at", 0, "Issuance time, unix seconds (part of the address key)")
	fs.StringVar(&r.description, "description", "", "Free-text description")
	fs.Var(&r.uri, "uri", "Optional URI")
}

func (r *requestFlags) request() issuance.Request {
	req := issuance.Request{
		InstitutionID:   r.institutionID,
		InstitutionName: r.institutionName,
		CandidateID:     r.candidateID,
		CandidateName:   r.candidateName,
		IssuedAt:        r.issuedAt,
		Description:     r.description,
	}
	if r.uri.set {
		u := r.uri.v
		req.URI = &u
	}
	return req
}

func (r *requestFlags) checkKey() error {
	if r.institutionID == "" {
		return errors.New("missing --institution-id")
	}
	if r.candidateID == "" {
		return errors.New("missing --candidate-id")
	}
	return nil
}

type signerFlags struct {
	seedHex    string
	keyFile    string
	signer     string
	signerRole string
	payer      string
	payerRole  string
	hashAlg    string
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.seedHex, "seed-hex", "", "Authority ed25519 seed as 64 hex chars")
	fs.StringVar(&s.keyFile, "key-file", "", "Path to an authority seed file")
	fs.StringVar(&s.signer, "signer", "", "Authority key name in the key store")
	fs.StringVar(&s.signerRole, "signer-role", "", "Optional role of --signer")
	fs.StringVar(&s.payer, "payer", "", "Optional payer key name (defaults to the authority)")
	fs.StringVar(&s.payerRole, "payer-role", "", "Optional role of --payer")
	fs.StringVar(&s.hashAlg, "hash-alg", authority.DefaultHashAlg, "Digest signed by the authority: sha256, sha512, sha3-256")
}

// prove signs req and, when a payer is named, adds the payer co-signature.
func (s *signerFlags) prove(req issuance.Request) (authority.Proof, error) {
	ks, err := openKeyStore()
	if err != nil {
		return authority.Proof{}, err
	}
	signer, err := ks.Signer(s.seedHex, s.keyFile, s.signer, s.signerRole)
	if err != nil {
		return authority.Proof{}, fmt.Errorf("signer: %w", err)
	}
	signer.HashAlg = s.hashAlg
	msg := req.SigningMessage()
	p, err := signer.Prove(msg)
	if err != nil {
		return authority.Proof{}, err
	}
	if s.payer == "" {
		return p, nil
	}
	payer, err := ks.Signer("", "", s.payer, s.payerRole)
	if err != nil {
		return authority.Proof{}, fmt.Errorf("payer: %w", err)
	}
	if err := payer.CoSign(&p, msg); err != nil {
		return authority.Proof{}, err
	}
	return p, nil
}

type storeFlags struct {
	backend     string
	storeConfig string
	programID   string
}

func (s *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.backend, "backend", "", "Storage backend name (see 'certledger backends')")
	fs.StringVar(&s.storeConfig, "store-config", "", "YAML storage config (primary + archives)")
	fs.StringVar(&s.programID, "program-id", "", "Program id namespacing derived addresses")
	storeregistry.RegisterFlags(fs, storeregistry.UsageCLI)
}

func (s *storeFlags) open() (storage.Store, func() error, error) {
	switch {
	case s.storeConfig != "" && s.backend != "":
		return nil, nil, errors.New("use either --backend or --store-config, not both")
	case s.storeConfig != "":
		cfg, err := storeconfig.LoadFile(s.storeConfig)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(storeregistry.UsageCLI)
	case s.backend != "":
		return storeregistry.Open(s.backend, storeregistry.UsageCLI)
	default:
		return nil, nil, errors.New("missing --backend or --store-config")
	}
}

func (s *storeFlags) program() (address.Address, error) {
	if s.programID == "" {
		return address.DefaultProgramID, nil
	}
	return address.Parse(s.programID)
}

// openEngine opens the configured store and wraps it in an engine.
func (s *storeFlags) openEngine(opts issuance.Options) (*issuance.Engine, func(), error) {
	pid, err := s.program()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --program-id: %w", err)
	}
	st, closeFn, err := s.open()
	if err != nil {
		return nil, nil, err
	}
	opts.ProgramID = pid
	done := func() {
		if closeFn != nil {
			_ = closeFn()
		}
	}
	return issuance.New(st, authority.Verifier{}, opts), done, nil
}

func openKeyStore() (*keys.KeyStore, error) {
	return keys.Open(os.Getenv("CERTLEDGER_KEYS_DIR"))
}
