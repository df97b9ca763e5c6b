// Package main provides a CLI tool for generating and inspecting L402
// credentials for local development. Tokens minted here use the dev master
// secret and will NOT verify against a production deployment.
package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianmurray333/ganamos-sub006/internal/l402"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
)

const (
	// Dev master secret - matches config.go when GANAMOS_MASTER_SECRET is
	// not set.
	devMasterSecret = "dev-secret-change-in-production"

	defaultLocation = "ganamos"
	defaultTTL      = time.Hour
)

type tokenOutput struct {
	Token      string `json:"token"`
	Secret     string `json:"secret"`
	Credential string `json:"credential"`
	Identifier string `json:"identifier"`
	ExpiresAt  string `json:"expires_at"`
	Usage      string `json:"usage"`
}

func main() {
	mintCmd := flag.NewFlagSet("mint", flag.ExitOnError)
	mintAction := mintCmd.String("action", "jobs:create", "Action caveat bound into the token")
	mintAmount := mintCmd.Int64("amount", 1000, "Amount caveat in sats (0 to omit)")
	mintTTL := mintCmd.Duration("ttl", defaultTTL, "Token time-to-live")
	mintLocation := mintCmd.String("location", defaultLocation, "Token location")
	mintSecret := mintCmd.String("master-secret", devMasterSecret, "Master secret for root key derivation")
	mintJSON := mintCmd.Bool("json", false, "Output as JSON")

	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mint":
		mintCmd.Parse(os.Args[2:])
		mint(*mintAction, *mintAmount, *mintTTL, *mintLocation, *mintSecret, *mintJSON)
	case "inspect":
		inspectCmd.Parse(os.Args[2:])
		if inspectCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: tokengen inspect <encoded-token>")
			os.Exit(1)
		}
		inspect(inspectCmd.Arg(0))
	default:
		printUsage()
		os.Exit(1)
	}
}

func mint(action string, amount int64, ttl time.Duration, location, masterSecret string, asJSON bool) {
	// The preimage stands in for a real Lightning payment: its hash is the
	// token identifier, and presenting the preimage later proves "payment".
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		fatal(err)
	}
	identifier := sha256.Sum256(preimage)

	rootKey := macaroon.DeriveRootKey([]byte(masterSecret), location)
	mac := macaroon.New(rootKey, identifier[:], location)
	mac.AddCaveat(macaroon.Caveat{Condition: l402.CaveatAction, Value: action})
	if amount > 0 {
		mac.AddCaveat(macaroon.Caveat{Condition: l402.CaveatAmount, Value: fmt.Sprintf("%d", amount)})
	}
	expiresAt := time.Now().UTC().Add(ttl)
	mac.AddCaveat(macaroon.Caveat{Condition: l402.CaveatExpires, Value: expiresAt.Format(time.RFC3339)})

	token := macaroon.Encode(mac)
	secret := hex.EncodeToString(preimage)

	out := tokenOutput{
		Token:      token,
		Secret:     secret,
		Credential: token + ":" + secret,
		Identifier: hex.EncodeToString(identifier[:]),
		ExpiresAt:  expiresAt.Format(time.RFC3339),
		Usage:      `Authorization: L402 ` + token + ":" + secret,
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatal(err)
		}
		return
	}

	fmt.Printf("token:      %s\n", out.Token)
	fmt.Printf("secret:     %s\n", out.Secret)
	fmt.Printf("identifier: %s\n", out.Identifier)
	fmt.Printf("expires:    %s\n", out.ExpiresAt)
	fmt.Printf("\n%s\n", out.Usage)
}

func inspect(encoded string) {
	mac, err := macaroon.Decode(encoded)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("location:   %s\n", mac.Location)
	fmt.Printf("identifier: %s\n", hex.EncodeToString(mac.Identifier))
	for _, caveat := range mac.Caveats {
		fmt.Printf("caveat:     %s=%s\n", caveat.Condition, caveat.Value)
	}
	fmt.Printf("signature:  %s\n", hex.EncodeToString(mac.Sig))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `tokengen - generate and inspect L402 dev credentials

Usage:
  tokengen mint [flags]       Mint a credential signed with the dev secret
  tokengen inspect <token>    Decode a token and print its fields

Run "tokengen mint -h" for mint flags.`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
