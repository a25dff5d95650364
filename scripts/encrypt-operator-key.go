//go:build ignore

// This script encrypts a hex ECDSA operator key for hedera.operator_key.
// Run with: go run scripts/encrypt-operator-key.go -key <hex> [-master <base64>]
// Without -master a fresh master key is generated and printed.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hashgraph/mass-payout/pkg/keys"
)

func main() {
	hexKey := flag.String("key", "", "Operator ECDSA private key (hex)")
	master := flag.String("master", "", "Base64 master key (generated when empty)")
	flag.Parse()

	if *hexKey == "" {
		fmt.Fprintln(os.Stderr, "-key is required")
		os.Exit(2)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(*hexKey, "0x"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid operator key: %v\n", err)
		os.Exit(1)
	}

	var masterKey []byte
	if *master == "" {
		if masterKey, err = keys.GenerateMasterKey(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate master key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("MASS_PAYOUT_MASTER_KEY=%s\n", keys.MasterKeyToBase64(masterKey))
	} else if masterKey, err = keys.MasterKeyFromBase64(*master); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid master key: %v\n", err)
		os.Exit(1)
	}

	encrypted, err := keys.EncryptOperatorKey(privateKey, masterKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encrypt operator key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("operator_key: %s\n", encrypted)
	fmt.Printf("operator address: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
}
