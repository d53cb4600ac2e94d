// Issue Token mints a bearer token for calling the report API.
//
// Usage:
//
//	TOKEN_SECRET=... go run ./tools/issue_token -user=citizen-001
//	TOKEN_SECRET=... go run ./tools/issue_token -user=ops -role=admin -ttl=1h
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/token"
)

func main() {
	cfg := config.Load()

	user := flag.String("user", "", "user id the token is issued to")
	role := flag.String("role", string(auth.RoleCitizen), "citizen or admin")
	ttl := flag.Duration("ttl", cfg.TokenTTL, "token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "user required")
		os.Exit(1)
	}
	if cfg.TokenSecret == "" {
		fmt.Fprintln(os.Stderr, "TOKEN_SECRET must be set")
		os.Exit(1)
	}

	tok, err := token.Generate(auth.Principal{ID: *user, Role: auth.ParseRole(*role)}, []byte(cfg.TokenSecret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
