package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dDraxb/Llamaserve/internal/auth"
	"github.com/dDraxb/Llamaserve/internal/config"
	"github.com/dDraxb/Llamaserve/internal/storage"
)

const usage = `Usage: userctl <command> [flags]

Commands:
  init-db                   create the credential and ledger tables
  create-user -username U   create a user and print its API key
  rotate-key  -username U   replace a user's API key and print the new one
  activate    -username U   re-enable a user
  deactivate  -username U   disable a user without deleting it
  delete-user -username U   remove a user
  list-users                list all users

create-user and rotate-key accept -api-key to supply the key instead of
generating one. Keys are printed exactly once; only the hash is stored.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "userctl: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:           cfg.Database.DSN(),
		UsersTable:    cfg.UsersTable,
		RequestsTable: cfg.RequestsTable,
		MaxOpenConns:  2,
		MaxIdleConns:  1,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := storage.NewUserRepository(db)

	switch command {
	case "init-db":
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Println("schema ready")
		return nil

	case "create-user":
		username, apiKey, err := parseUserFlags(command, args, true)
		if err != nil {
			return err
		}
		if _, err := users.Create(ctx, username, auth.HashKey(apiKey)); err != nil {
			return err
		}
		fmt.Printf("created user %s\napi key: %s\n", username, apiKey)
		return nil

	case "rotate-key":
		username, apiKey, err := parseUserFlags(command, args, true)
		if err != nil {
			return err
		}
		if err := users.RotateKey(ctx, username, auth.HashKey(apiKey)); err != nil {
			return err
		}
		fmt.Printf("rotated key for %s\napi key: %s\n", username, apiKey)
		return nil

	case "activate", "deactivate":
		username, _, err := parseUserFlags(command, args, false)
		if err != nil {
			return err
		}
		if err := users.SetActive(ctx, username, command == "activate"); err != nil {
			return err
		}
		fmt.Printf("%sd user %s\n", command, username)
		return nil

	case "delete-user":
		username, _, err := parseUserFlags(command, args, false)
		if err != nil {
			return err
		}
		if err := users.Delete(ctx, username); err != nil {
			return err
		}
		fmt.Printf("deleted user %s\n", username)
		return nil

	case "list-users":
		all, err := users.List(ctx)
		if err != nil {
			return err
		}
		for _, user := range all {
			state := "active"
			if !user.IsActive {
				state = "inactive"
			}
			fmt.Printf("%s\t%s\t%s\n", user.Username, state, user.CreatedAt.Format(time.RFC3339))
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// parseUserFlags handles the -username and optional -api-key flags shared by
// the user commands. When withKey is set and no key is given, a random one is
// generated.
func parseUserFlags(command string, args []string, withKey bool) (username, apiKey string, err error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&username, "username", "", "username")
	if withKey {
		fs.StringVar(&apiKey, "api-key", "", "API key (generated when omitted)")
	}
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if username == "" {
		return "", "", fmt.Errorf("%s: -username is required", command)
	}

	if withKey && apiKey == "" {
		apiKey, err = generateKey()
		if err != nil {
			return "", "", err
		}
	}
	return username, apiKey, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
