// ABOUTME: Operator subcommands that prepare config, secrets and credentials
// ABOUTME: Each command loads the same config file serve uses

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/config"
	"github.com/2389/nursery-gateway/internal/gateway"
	"github.com/2389/nursery-gateway/internal/secrets"
	"github.com/2389/nursery-gateway/internal/store"
)

const (
	minAdminPasswordLength = 8
	defaultSetupTokenTTL   = 24 * time.Hour
)

// parseFlags reads "--name value", "--name=value" and bare boolean flags.
// valued lists the flags that take a value; bools the ones that do not.
func parseFlags(args []string, valued, bools []string) (map[string]string, error) {
	isValued := make(map[string]bool, len(valued))
	for _, n := range valued {
		isValued[n] = true
	}
	isBool := make(map[string]bool, len(bools))
	for _, n := range bools {
		isBool[n] = true
	}

	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isBool[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			flags[name] = "true"
		case isValued[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			flags[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
	}
	return flags, nil
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// runInit writes a default config with freshly generated secrets.
func runInit(args []string, out io.Writer) error {
	flags, err := parseFlags(args, nil, []string{"force"})
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && flags["force"] == "" {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	jwtSecret, err := randomSecret(32)
	if err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	encryptionKey, err := randomSecret(32)
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}

	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = jwtSecret
	cfg.Secrets.EncryptionKey = encryptionKey
	cfg.Database.Path = filepath.Join(dataPath, "nursery.db")

	if err := cfg.Write(configPath); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	green.Fprintf(out, "  ✓ Data directory: %s\n", dataPath)
	fmt.Fprintln(out)
	color.New(color.FgYellow).Fprintln(out, "  Next:")
	fmt.Fprintln(out, "    nursery-gateway set-admin-password")
	fmt.Fprintln(out, "    nursery-gateway serve")
	return nil
}

// runSetAdminPassword encrypts the administrator password and stores it in
// the settings table. The password comes from --password or the first line
// of stdin.
func runSetAdminPassword(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	flags, err := parseFlags(args, []string{"password"}, nil)
	if err != nil {
		return err
	}

	password, ok := flags["password"]
	if !ok {
		fmt.Fprint(out, "Admin password: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < minAdminPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minAdminPasswordLength)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cipher, err := secrets.NewCipher(cfg.Secrets.EncryptionKey)
	if err != nil {
		return fmt.Errorf("creating settings cipher: %w", err)
	}
	sealed, err := cipher.Seal(store.SettingAdminPassword, password)
	if err != nil {
		return fmt.Errorf("encrypting password: %w", err)
	}

	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetSetting(ctx, store.SettingAdminPassword, sealed); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		ActorKind:  "cli",
		Action:     store.AuditSetAdminPassword,
		TargetType: "setting",
		TargetID:   store.SettingAdminPassword,
	}); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	color.New(color.FgGreen).Fprintln(out, "  ✓ Admin password updated")
	return nil
}

// runToken prints a system administrator token for scripts and tooling.
func runToken(args []string, out io.Writer) error {
	flags, err := parseFlags(args, []string{"ttl"}, nil)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := cfg.Auth.TokenLifetime
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), ttl, nil, nil)
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	token, _, err := verifier.Issue(auth.SystemAdministrator{})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

// runSetupToken creates a one-time setup token and password, optionally
// bound to a single family id.
func runSetupToken(ctx context.Context, args []string, out io.Writer) error {
	flags, err := parseFlags(args, []string{"family", "ttl"}, nil)
	if err != nil {
		return err
	}

	ttl := defaultSetupTokenTTL
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := randomSecret(18)
	if err != nil {
		return fmt.Errorf("generating setup token: %w", err)
	}
	password, err := randomSecret(9)
	if err != nil {
		return fmt.Errorf("generating setup password: %w", err)
	}
	hash, err := secrets.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing setup password: %w", err)
	}

	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	expiresAt := time.Now().Add(ttl).UTC()
	if err := s.CreateSetupToken(ctx, &store.SetupToken{
		Token:        token,
		FamilyID:     flags["family"],
		PasswordHash: hash,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return fmt.Errorf("storing setup token: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintln(out, "  Setup Token")
	cyan.Fprintln(out, "  -----------")
	fmt.Fprintf(out, "  Token:    %s\n", token)
	fmt.Fprintf(out, "  Password: %s\n", password)
	if family := flags["family"]; family != "" {
		fmt.Fprintf(out, "  Family:   %s\n", family)
	}
	fmt.Fprintf(out, "  Expires:  %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
