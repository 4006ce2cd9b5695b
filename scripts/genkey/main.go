// genkey generates the credentials xrayd needs at deploy time: an
// Ed25519 key pair for JWT signing, and optionally an argon2id hash of
// a dashboard API key.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//	go run scripts/genkey/main.go -hash <api-key>
//
// Without flags it writes:
//
//	data/jwt_private.pem  (mode 0600, keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// Point XRAY_JWT_PRIVATE_KEY and XRAY_JWT_PUBLIC_KEY at these files.
// The server auto-generates ephemeral keys when the paths are unset,
// but those are discarded on every restart, invalidating all existing
// tokens. Persistent keys prevent that.
//
// With -hash it prints the argon2id hash of the given key, suitable for
// XRAY_ADMIN_KEY_HASH or XRAY_VIEWER_KEY_HASH.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/xray/internal/auth"
)

func main() {
	hashKey := flag.String("hash", "", "print the argon2id hash of this API key and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: hash key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	dir := "data"
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	// Refuse to overwrite existing keys to avoid invalidating
	// live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "error: %s already exists; delete it first to rotate keys\n", path)
			os.Exit(1)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal private key: %v\n", err)
		os.Exit(1)
	}
	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal public key: %v\n", err)
		os.Exit(1)
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s\n", privPath, pubPath)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
