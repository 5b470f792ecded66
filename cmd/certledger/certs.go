package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/token"
)

type certOutput struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
	CID     string `json:"cid"`
	issuance.Request
	Issuer string `json:"issuer"`
	Token  string `json:"token,omitempty"`
}

func printCert(out io.Writer, is *issuance.Issued) error {
	r := is.Record
	o := certOutput{
		Address: is.Address.String(),
		Bump:    is.Bump,
		CID:     is.ContentCID.String(),
		Request: issuance.Request{
			InstitutionID:   r.InstitutionID,
			InstitutionName: r.InstitutionName,
			CandidateID:     r.CandidateID,
			CandidateName:   r.CandidateName,
			IssuedAt:        r.IssuedAt,
			Description:     r.Description,
			URI:             r.URI,
		},
		Issuer: r.Issuer.String(),
		Token:  is.Token,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

// reportErr prints err with its rule id, when it has one.
func reportErr(errOut io.Writer, what string, err error) {
	if rule := certerr.RuleID(err); rule != "" {
		fmt.Fprintf(errOut, "%s: %v (%s %s)\n", what, err, certerr.KindOf(err), rule)
		return
	}
	fmt.Fprintf(errOut, "%s: %v\n", what, err)
}

func cmdAddress(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var req requestFlags
	var programID string
	req.register(fs)
	fs.StringVar(&programID, "program-id", "", "Program id namespacing derived addresses")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := req.checkKey(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	pid := address.DefaultProgramID
	if programID != "" {
		var err error
		if pid, err = address.Parse(programID); err != nil {
			fmt.Fprintf(errOut, "invalid --program-id: %v\n", err)
			return 2
		}
	}
	addr, bump, err := issuance.New(nil, nil, issuance.Options{ProgramID: pid}).
		DeriveAddress(req.institutionID, req.candidateID, req.issuedAt)
	if err != nil {
		reportErr(errOut, "derive", err)
		return 1
	}
	fmt.Fprintf(out, "%s\t%d\n", addr, bump)
	return 0
}

func cmdProve(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var req requestFlags
	var sig signerFlags
	req.register(fs)
	sig.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := req.checkKey(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	r := req.request()
	if err := r.Validate(); err != nil {
		reportErr(errOut, "invalid request", err)
		return 1
	}
	p, err := sig.prove(r)
	if err != nil {
		reportErr(errOut, "prove", err)
		return 1
	}
	body := struct {
		issuance.Request
		Proof authority.Proof `json:"proof"`
	}{r, p}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	return 0
}

func cmdIssue(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var req requestFlags
	var sig signerFlags
	var sf storeFlags
	var tokenKey string
	req.register(fs)
	sig.register(fs)
	sf.register(fs)
	fs.StringVar(&tokenKey, "token-key", "", "Key name whose seed signs a verification token")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := req.checkKey(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	r := req.request()
	if err := r.Validate(); err != nil {
		reportErr(errOut, "invalid request", err)
		return 1
	}
	p, err := sig.prove(r)
	if err != nil {
		reportErr(errOut, "prove", err)
		return 1
	}

	var opts issuance.Options
	if tokenKey != "" {
		svc, err := tokenService(tokenKey)
		if err != nil {
			fmt.Fprintf(errOut, "token key: %v\n", err)
			return 1
		}
		opts.Minter = svc
	}
	eng, done, err := sf.openEngine(opts)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	defer done()

	is, err := eng.Issue(context.Background(), r, p)
	if err != nil {
		reportErr(errOut, "issue", err)
		return 1
	}
	if err := printCert(out, is); err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	if opts.Minter != nil && is.Token == "" {
		fmt.Fprintln(errOut, "issue: certificate written without a token")
		return 1
	}
	return 0
}

func cmdShow(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var req requestFlags
	var sf storeFlags
	req.register(fs)
	sf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}

	var addr address.Address
	byKey := req.institutionID != "" || req.candidateID != ""
	switch {
	case fs.NArg() == 1 && !byKey:
		var err error
		if addr, err = address.Parse(fs.Arg(0)); err != nil {
			fmt.Fprintf(errOut, "invalid address: %v\n", err)
			return 2
		}
	case fs.NArg() == 0 && byKey:
		if err := req.checkKey(); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	default:
		fmt.Fprintln(errOut, "usage: certledger show <store flags> (--institution-id <id> --candidate-id <id> --issued-at <unix> | <address>)")
		return 2
	}

	eng, done, err := sf.openEngine(issuance.Options{})
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	defer done()

	ctx := context.Background()
	var is *issuance.Issued
	if byKey {
		is, err = eng.Lookup(ctx, req.institutionID, req.candidateID, req.issuedAt)
	} else {
		is, err = eng.Fetch(ctx, addr)
	}
	if err != nil {
		reportErr(errOut, "show", err)
		return 1
	}
	if err := printCert(out, is); err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	return 0
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	eng, done, err := sf.openEngine(issuance.Options{})
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	defer done()

	addrs, err := eng.List(context.Background())
	if err != nil {
		reportErr(errOut, "list", err)
		return 1
	}
	for _, a := range addrs {
		fmt.Fprintln(out, a)
	}
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var tok string
	var tokenKey string
	sf.register(fs)
	fs.StringVar(&tok, "token", "", "Verification token")
	fs.StringVar(&tokenKey, "token-key", "", "Key name of the attestation key that signed the token")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if tok == "" || tokenKey == "" {
		fmt.Fprintln(errOut, "missing --token or --token-key")
		return 2
	}
	svc, err := tokenService(tokenKey)
	if err != nil {
		fmt.Fprintf(errOut, "token key: %v\n", err)
		return 1
	}
	eng, done, err := sf.openEngine(issuance.Options{})
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	defer done()

	is, _, err := svc.Verify(context.Background(), tok, eng)
	if err != nil {
		reportErr(errOut, "invalid", err)
		return 1
	}
	fmt.Fprintf(out, "OK %s\n", is.Address)
	return 0
}

func tokenService(name string) (*token.Service, error) {
	ks, err := openKeyStore()
	if err != nil {
		return nil, err
	}
	seed, err := ks.Seed(name, "")
	if err != nil {
		return nil, err
	}
	return token.NewService(seed)
}
