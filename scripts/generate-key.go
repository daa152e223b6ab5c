//go:build ignore

// Package main is a development utility that mints an ENCRYPTION_KEY for the
// content store and a signed JWT carrying every scope, so a local server can be
// exercised end to end without an identity provider. Do not use generated
// tokens in production: mint actor tokens from your identity gateway instead.
//
// Usage: DOCSHIELD_JWT_SECRET=... go run scripts/generate-key.go [email]
package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docshield/docshield/internal/auth"
	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	email := "editor@dev.local"
	if len(os.Args) > 1 {
		email = os.Args[1]
	}
	if os.Getenv(auth.JWTSecretEnv) == "" {
		log.Fatalf("%s must be set so the server accepts the token", auth.JWTSecretEnv)
	}

	scopes := make([]string, 0, len(auth.AllScopes()))
	for _, s := range auth.AllScopes() {
		scopes = append(scopes, string(s))
	}
	token, err := auth.GenerateJWT(models.Actor{ID: "dev-" + email, Email: email}, scopes, 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Development credentials")
	fmt.Println("==========================================================")
	fmt.Printf("\nENCRYPTION_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Printf("\nActor: %s\nScopes: %v\nExpires: %s\n", email, scopes, time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339))
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization Header: Bearer %s\n", token)
	fmt.Println("==========================================================")
}
