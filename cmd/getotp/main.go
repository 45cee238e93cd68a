// getotp is an operator tool: it issues an internal OTP for a user and
// prints the plaintext value. Internal OTPs are never delivered by the
// notification pipeline, so this is the only place the value surfaces.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"access.org/internal/access"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("ACCESS_PG_DSN"), "PostgreSQL DSN")
		tenant  = flag.String("tenant", "", "Tenant id")
		login   = flag.String("login", "", "User email, number or id")
		otpType = flag.String("type", access.OTPTypePIN, "OTP type: PIN or TOKEN")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ACCESS_PG_DSN")
	}
	if *tenant == "" || *login == "" {
		log.Fatal("usage: getotp -tenant <id> -login <email|number|id> [-type PIN|TOKEN]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := access.NewPGStore(db)
	issuer, err := access.NewIssuer(access.WithGeneratedKey())
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	svc := access.NewService(store, issuer)

	user, err := svc.FindUser(ctx, *tenant, *login)
	if err != nil {
		log.Fatalf("find user: %v", err)
	}

	otp, err := svc.RequestOTP(ctx, user, strings.ToUpper(*otpType), access.OTPRequest{
		BypassThreshold: true,
		IsInternal:      true,
	})
	if err != nil {
		log.Fatalf("request otp: %v", err)
	}

	fmt.Printf("otp id:    %s\n", otp.ID)
	fmt.Printf("type:      %s\n", otp.Type)
	fmt.Printf("expires:   %s\n", otp.ExpireAt.Format(time.RFC3339))
	fmt.Printf("value:     %s\n", otp.Plain)
}
