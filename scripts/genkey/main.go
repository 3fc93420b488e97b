// genkey generates an Ed25519 key pair for Shirushi JWT signing.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go [dir]
//
// Writes jwt_private.pem (mode 0600, keep secret) and jwt_public.pem into
// dir (default "data"). Point SHIRUSHI_JWT_PRIVATE_KEY and
// SHIRUSHI_JWT_PUBLIC_KEY at the written files. Run once before first
// launch; keys persist across restarts.
//
// The server auto-generates ephemeral keys when SHIRUSHI_JWT_PRIVATE_KEY is
// unset, but those are discarded on every restart, invalidating all tokens
// issued before it. Persistent keys prevent that.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := "data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := run(dir, privPath, pubPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Println("Keys are ready. Set SHIRUSHI_JWT_PRIVATE_KEY and SHIRUSHI_JWT_PUBLIC_KEY to use them.")
}

func run(dir, privPath, pubPath string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Refuse to overwrite existing keys; rotating by accident invalidates
	// every live token.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, delete it first to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	return writePEM(pubPath, "PUBLIC KEY", pubDER)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
