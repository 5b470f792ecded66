package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/archive"
	"xdao.co/certledger/storage/storeregistry"
)

func cmdExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var outPath string
	sf.register(fs)
	fs.StringVar(&outPath, "out", "", "Output TAR file ('-' for stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if outPath == "" {
		fmt.Fprintln(errOut, "missing --out")
		return 2
	}
	var addrs []address.Address
	for _, a := range fs.Args() {
		addr, err := address.Parse(a)
		if err != nil {
			fmt.Fprintf(errOut, "invalid address %q: %v\n", a, err)
			return 2
		}
		addrs = append(addrs, addr)
	}

	st, closeFn, err := sf.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx := context.Background()
	if len(addrs) == 0 {
		l, ok := st.(storage.Lister)
		if !ok {
			fmt.Fprintln(errOut, "backend cannot list regions; pass addresses explicitly")
			return 1
		}
		if addrs, err = l.List(ctx); err != nil {
			fmt.Fprintf(errOut, "list: %v\n", err)
			return 1
		}
	}

	w := out
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(errOut, "create %s: %v\n", outPath, err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := archive.Export(ctx, w, st, addrs); err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	if outPath != "-" {
		fmt.Fprintf(out, "Exported %d certificates to %s\n", len(addrs), outPath)
	}
	return 0
}

func cmdImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var inPath string
	var payer string
	var payerRole string
	var ignoreUnknown bool
	sf.register(fs)
	fs.StringVar(&inPath, "in", "", "Input TAR file")
	fs.StringVar(&payer, "payer", "", "Key name funding the imported regions")
	fs.StringVar(&payerRole, "payer-role", "", "Optional role of --payer")
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip unknown archive entries")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" || payer == "" {
		fmt.Fprintln(errOut, "missing --in or --payer")
		return 2
	}
	ks, err := openKeyStore()
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	payerID, err := ks.Identity(payer, payerRole)
	if err != nil {
		fmt.Fprintf(errOut, "payer: %v\n", err)
		return 1
	}

	f, err := os.Open(inPath)
	if err != nil {
		fmt.Fprintf(errOut, "open %s: %v\n", inPath, err)
		return 1
	}
	defer f.Close()

	st, closeFn, err := sf.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	res, err := archive.Import(context.Background(), f, st, archive.ImportOptions{Payer: payerID, IgnoreUnknown: ignoreUnknown})
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Imported %d, skipped %d, conflicts %d\n", len(res.Imported), len(res.Skipped), len(res.Conflicts))
	for _, a := range res.Conflicts {
		fmt.Fprintf(errOut, "conflict: %s\n", a)
	}
	if len(res.Conflicts) > 0 {
		return 1
	}
	return 0
}

func cmdBackends(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("backends", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	for _, b := range storeregistry.List(storeregistry.UsageCLI) {
		if b.Description == "" {
			fmt.Fprintln(out, b.Name)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
	}
	return 0
}
