// Package main is a development utility for generating the two secrets the
// server needs: a JWT signing secret and a hex-encoded AES-256 letter
// encryption key. It prints both plus the environment variable assignments so
// developers can quickly configure a local instance. Do not reuse generated
// keys across environments — rotating the letter key makes previously
// archived letters unreadable.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
)

func main() {
	jwtBytes := make([]byte, 32)
	if _, err := rand.Read(jwtBytes); err != nil {
		log.Fatal(err)
	}
	jwtSecret := base64.RawURLEncoding.EncodeToString(jwtBytes)

	letterKey := make([]byte, 32)
	if _, err := rand.Read(letterKey); err != nil {
		log.Fatal(err)
	}
	letterKeyHex := hex.EncodeToString(letterKey)

	fmt.Println("==========================================================")
	fmt.Println("Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nJWT Secret: %s\n", jwtSecret)
	fmt.Printf("\nLetter Encryption Key (AES-256, hex): %s\n", letterKeyHex)
	fmt.Println("\n==========================================================")
	fmt.Println("Environment:")
	fmt.Println("==========================================================")
	fmt.Printf(`
RMS_AUTH_JWT_SECRET=%s
RMS_STORAGE_ENCRYPTION_KEY=%s
`, jwtSecret, letterKeyHex)
	fmt.Println("\n==========================================================")
}
