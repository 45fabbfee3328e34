// admin-enroll generates a TOTP secret for the admin handshake shortcut
// and writes its enrollment QR code to a PNG file, so an operator never
// has to type a raw secret into an authenticator app.
package main

import (
	"fmt"
	"log"
	"os"

	"chessrelay/internal/security"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: admin-enroll <account-name> <output.png>")
		os.Exit(1)
	}
	accountName, outPath := os.Args[1], os.Args[2]

	key, err := security.GenerateSecret(accountName)
	if err != nil {
		log.Fatalf("[admin-enroll] %v", err)
	}

	png, err := security.EnrollmentQR(key, 256)
	if err != nil {
		log.Fatalf("[admin-enroll] %v", err)
	}
	if err := os.WriteFile(outPath, png, 0o644); err != nil {
		log.Fatalf("[admin-enroll] write %s: %v", outPath, err)
	}

	fmt.Printf("secret: %s\nqr written to %s\nset ADMIN_TOTP_SECRET=%s in .env\n",
		key.Secret(), outPath, key.Secret())
}
