// Package main is a development utility for generating a secret-store master
// key. It prints the 32-byte key hex-encoded, ready to export as the
// ENCRYPTION_KEY environment variable, together with a PBKDF2 salt for
// deployments that prefer passphrase-based derivation. Generate one key per
// environment and store it in your secret manager; losing it makes every
// sealed private key unrecoverable.
package main

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/riboseinc/keyserver/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	salt, err := crypto.GenerateSalt(16)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Secret Store Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nENCRYPTION_KEY=%s\n", hex.EncodeToString(key))
	fmt.Println("\nAlternatively, for passphrase-based derivation:")
	fmt.Printf("\nsecret_store:\n  passphrase: <choose one>\n  salt: %q\n", hex.EncodeToString(salt))
	fmt.Println("\n==========================================================")
}
