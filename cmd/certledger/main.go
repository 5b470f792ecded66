package main

import (
	"fmt"
	"io"
	"os"

	_ "xdao.co/certledger/storage/grpcstore"
	_ "xdao.co/certledger/storage/localfs"
	_ "xdao.co/certledger/storage/sqlitestore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "address":
		return cmdAddress(args[1:], out, errOut)
	case "backends":
		return cmdBackends(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "import":
		return cmdImport(args[1:], out, errOut)
	case "issue":
		return cmdIssue(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "prove":
		return cmdProve(args[1:], out, errOut)
	case "show":
		return cmdShow(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "certledger: certificate issuance CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  certledger key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  certledger key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  certledger key list")
	fmt.Fprintln(w, "  certledger key export --name <name> [--role <role>]")
	fmt.Fprintln(w, "  certledger address --institution-id <id> --candidate-id <id> --issued-at <unix>")
	fmt.Fprintln(w, "  certledger prove <request flags> <signer flags>")
	fmt.Fprintln(w, "  certledger issue <request flags> <signer flags> <store flags> [--token-key <name>]")
	fmt.Fprintln(w, "  certledger show <store flags> (--institution-id <id> --candidate-id <id> --issued-at <unix> | <address>)")
	fmt.Fprintln(w, "  certledger list <store flags>")
	fmt.Fprintln(w, "  certledger verify --token <jwt> --token-key <name> <store flags>")
	fmt.Fprintln(w, "  certledger export --out <file.tar> <store flags> [<address> ...]")
	fmt.Fprintln(w, "  certledger import --in <file.tar> --payer <name> <store flags>")
	fmt.Fprintln(w, "  certledger backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Request flags:")
	fmt.Fprintln(w, "  --institution-id --institution-name --candidate-id --candidate-name --issued-at --description [--uri]")
	fmt.Fprintln(w, "Signer flags:")
	fmt.Fprintln(w, "  (--seed-hex <64hex> | --key-file <path> | --signer <name> [--signer-role <role>]) [--payer <name> [--payer-role <role>]] [--hash-alg sha256|sha512|sha3-256]")
	fmt.Fprintln(w, "Store flags:")
	fmt.Fprintln(w, "  --backend <name> [backend flags] | --store-config <file.yaml>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - keys are stored under ~/.certledger/keys/<name> (override with CERTLEDGER_KEYS_DIR)")
	fmt.Fprintln(w, "  - --program-id selects the address namespace (default: the built-in program id)")
	fmt.Fprintln(w, "  - prove prints a JSON body for POST /v1/certificates")
	fmt.Fprintln(w, "  - exit status 1 means the operation failed, 2 means bad usage")
}
