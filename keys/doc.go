// Package keys manages local authority keys for the certledger CLI.
//
// Keys are Ed25519 seeds stored hex-encoded under a directory, one root key
// per name plus deterministic role keys derived from it. Identities are the
// base58 form of the public key, the same form stamped as a certificate's
// issuer.
package keys
