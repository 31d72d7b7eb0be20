package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cohortlive/internal/app"
	"cohortlive/internal/auth"
	"cohortlive/internal/catalog"
	"cohortlive/internal/config"
	"cohortlive/pkg/types"
)

const usage = `usage:
  cohortlive [-config path]                       serve the API
  cohortlive token -user id [-role r] [-ttl d]    print a signed development token
  cohortlive import [-config path] catalog.json   load curriculum units and users
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// run dispatches the subcommand. Without one it serves until SIGINT/SIGTERM.
func run(args []string, stdout io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "token":
			return issueToken(args[1:], stdout)
		case "import":
			return importCatalog(args[1:], stdout)
		}
	}

	fs := flag.NewFlagSet("cohortlive", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	return serve(cfg)
}

func serve(cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(context.Background()); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Printf("received shutdown signal, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// issueToken signs a token with the configured secret for local testing.
func issueToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	userID := fs.String("user", "", "user id to put in the subject claim")
	role := fs.String("role", types.RoleParticipant, "instructor, admin or participant")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("token: -user is required")
	}

	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(*userID, *role, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

// importCatalog loads a catalog file into the configured store. It needs no
// auth secret, so it reads the store settings without full validation.
func importCatalog(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("import: exactly one catalog file is required")
	}

	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if *configPath != "" {
		if err := config.LoadFromFile(cfg, *configPath); err != nil {
			return err
		}
	}

	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := catalog.ImportFile(context.Background(), store, fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "imported %d curriculum units, %d users\n", res.Units, res.Users)
	return err
}
