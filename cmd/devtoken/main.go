// Command devtoken mints credentials for local use: an access token for a
// wallet and role, or a webhook token with the bcrypt hash to put in
// WEBHOOK_TOKEN_HASH.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/utils"
)

func main() {
	_ = godotenv.Load()

	wallet := flag.String("wallet", "", "account identity placed in the sub claim")
	role := flag.String("role", model.RoleShopper, "SHOPPER or EXPERT")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	webhook := flag.Bool("webhook", false, "print a new webhook token and its hash instead")
	flag.Parse()

	if *webhook {
		tok, err := utils.RandomHex(24)
		if err != nil {
			log.Fatal(err)
		}
		hash, err := utils.HashSecret(tok, 12)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("token: %s\nWEBHOOK_TOKEN_HASH=%s\n", tok, hash)
		return
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	r := strings.ToUpper(*role)
	if r != model.RoleShopper && r != model.RoleExpert {
		log.Fatalf("unknown role %q", *role)
	}
	if !ledger.IsValidAddress(*wallet) {
		log.Fatalf("invalid wallet address %q", *wallet)
	}
	tok, err := utils.NewAccessToken(secret, *wallet, r, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
}
