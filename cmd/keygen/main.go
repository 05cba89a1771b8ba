// cmd/keygen/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Gazprom100/TAPDEL-sub000/internal/security"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	out := flag.String("out", "custody-keystore.json", "where to write the V3 keystore")
	vaultDir := flag.String("vault-dir", os.Getenv("FILE_VAULT_DIR"), "file vault directory to store the passphrase in (optional)")
	passPath := flag.String("pass-path", "custody/keystore-passphrase", "vault path of the keystore passphrase")
	flag.Parse()

	if _, err := os.Stat(*out); err == nil {
		log.Fatalf("refusing to overwrite existing keystore %s", *out)
	}

	// The passphrase is random unless the operator supplies one
	passphrase := os.Getenv("CUSTODY_KEYSTORE_PASSPHRASE")
	generatedPass := passphrase == ""
	if generatedPass {
		p, err := security.GenerateMasterKey()
		if err != nil {
			log.Fatal(err)
		}
		passphrase = p
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	blob, err := security.EncryptKeystore(key, passphrase, false)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*out, blob, 0600); err != nil {
		log.Fatalf("failed to write keystore: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	masterKey := os.Getenv("FILE_VAULT_KEY")
	if *vaultDir != "" {
		if masterKey == "" {
			if masterKey, err = security.GenerateMasterKey(); err != nil {
				log.Fatal(err)
			}
		}
		provider, err := security.NewFileVaultProvider(*vaultDir, masterKey)
		if err != nil {
			log.Fatalf("failed to open file vault: %v", err)
		}
		if err := provider.SetSecret(context.Background(), *passPath, passphrase); err != nil {
			log.Fatalf("failed to store passphrase: %v", err)
		}
	}

	fmt.Println("==============================================")
	fmt.Println("Custodial key generated")
	fmt.Println("==============================================")
	fmt.Println("CUSTODY_ADDRESS=" + address)
	fmt.Println("CUSTODY_KEYSTORE_PATH=" + *out)
	fmt.Println("CUSTODY_PASSPHRASE_PATH=" + *passPath)
	if *vaultDir != "" {
		fmt.Println("VAULT_PROVIDER=file")
		fmt.Println("FILE_VAULT_DIR=" + *vaultDir)
		if os.Getenv("FILE_VAULT_KEY") == "" {
			fmt.Println("FILE_VAULT_KEY=" + masterKey)
		}
	} else if generatedPass {
		fmt.Println("CUSTODY_KEYSTORE_PASSPHRASE=" + passphrase)
	}
	fmt.Println("==============================================")
	fmt.Println("Keep the passphrase and vault key out of version control.")
}
