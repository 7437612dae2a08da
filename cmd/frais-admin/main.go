// Command frais-admin seeds accounts and runs maintenance on the frais database.
//
//	frais-admin create-visitor -login lvillachane -name Villechalane -first-name Louis
//	frais-admin create-accountant -login comptable -name Durand
//	frais-admin close-stale
//	frais-admin schema-version
//
// Passwords are read from -password or FRAIS_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"frais/internal/cli"
	"frais/internal/config"
	"frais/internal/log"
	"frais/internal/services"
	"frais/internal/storage"
)

const usage = `usage: frais-admin <command> [flags]

commands:
  create-visitor     add a medical visitor account
  create-accountant  add an accountant account
  close-stale        close open sheets of past months
  schema-version     print the applied migration version
`

var errUsage = errors.New("invalid usage")

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := config.Load()

	if err := run(context.Background(), cfg.SQLiteDBPath, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("Command failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	if cmd == "schema-version" {
		version, dirty, err := storage.SchemaVersion(dbPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version %d dirty=%t\n", version, dirty)
		return nil
	}

	switch cmd {
	case "create-visitor", "create-accountant", "close-stale":
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}

	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	switch cmd {
	case "close-stale":
		n, err := services.NewAccountingService(repo).CloseStaleSheets(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "closed %d sheets\n", n)
		return nil
	case "create-visitor":
		a, err := parseAccount(cmd, args)
		if err != nil {
			return err
		}
		v, err := services.NewAccountService(repo).CreateVisitor(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "visitor %s created (login %s)\n", v.ID, v.Login)
	default:
		a, err := parseAccount(cmd, args)
		if err != nil {
			return err
		}
		acc, err := services.NewAccountService(repo).CreateAccountant(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "accountant %s created (login %s)\n", acc.ID, acc.Login)
	}
	return nil
}

func parseAccount(cmd string, args []string) (services.NewAccount, error) {
	var a services.NewAccount
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&a.ID, "id", "", "account id (default: random UUID)")
	fs.StringVar(&a.Login, "login", "", "login")
	fs.StringVar(&a.Password, "password", os.Getenv("FRAIS_PASSWORD"), "password")
	fs.StringVar(&a.Name, "name", "", "last name")
	fs.StringVar(&a.FirstName, "first-name", "", "first name")
	if err := fs.Parse(args); err != nil {
		return a, fmt.Errorf("%s: %v: %w", cmd, err, errUsage)
	}
	return a, nil
}
