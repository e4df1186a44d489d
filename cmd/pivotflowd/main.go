package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pivotflow/internal/api"
	"pivotflow/internal/app"
	"pivotflow/internal/config"
	"pivotflow/internal/credential"
)

func main() {
	var (
		cfgPath    string
		issueToken string
		tokenTTL   time.Duration
		setSecret  string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&issueToken, "issue-token", "", "print an API token for this subject and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of -issue-token (0 = no expiry)")
	flag.StringVar(&setSecret, "set-secret", "", "read a secret from stdin into the keyring ("+credential.TelegramToken+" or "+credential.JWTSecret+") and exit")
	flag.Parse()

	switch {
	case issueToken != "":
		if err := printToken(cfgPath, issueToken, tokenTTL); err != nil {
			fatal(err)
		}
		return
	case setSecret != "":
		if err := storeSecret(cfgPath, setSecret); err != nil {
			fatal(err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		fatal(fmt.Errorf("start: %w", err))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fatal(err)
	}
}

func printToken(cfgPath, subject string, ttl time.Duration) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	r, err := openResolver(cfg)
	if err != nil {
		return err
	}
	secret, err := r.Resolve(cfg.API.JWTSecret, credential.JWTSecret)
	if err != nil {
		return err
	}
	if secret == "" {
		return api.ErrNoSecret
	}
	tok, err := api.IssueToken(secret, cfg.API.Issuer, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func storeSecret(cfgPath, key string) error {
	if key != credential.TelegramToken && key != credential.JWTSecret {
		return fmt.Errorf("unknown secret %q", key)
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if !cfg.Secrets.Keyring {
		return fmt.Errorf("secrets.keyring is disabled in %s", cfgPath)
	}
	r, err := openResolver(cfg)
	if err != nil {
		return err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret: %w", err)
	}
	return r.Set(key, strings.TrimSpace(line))
}

func openResolver(cfg *config.Config) (*credential.Resolver, error) {
	if !cfg.Secrets.Keyring {
		return nil, nil
	}
	return credential.Open(credential.Config{Service: cfg.Secrets.Service, FileDir: cfg.Secrets.FileDir})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
