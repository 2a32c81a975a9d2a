package main

import (
	"fmt"
	"os"

	"github.com/pawpoint/admin-identity/internal/config"
	"github.com/pawpoint/admin-identity/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password>\n")
		os.Exit(1)
	}

	password := os.Args[1]
	if len(password) < config.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "Error: password must be at least %d characters\n", config.MinPasswordLength)
		os.Exit(1)
	}

	hash, err := util.HashPassword(password, config.BcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
