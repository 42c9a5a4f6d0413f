package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/app"
	"github.com/hamzasheedi/secure-hub/internal/audit"
	"github.com/hamzasheedi/secure-hub/internal/auth"
	"github.com/hamzasheedi/secure-hub/internal/config"
	"github.com/hamzasheedi/secure-hub/internal/crypto"
)

func main() {
	// ---- encrypt ----
	encCmd := flag.NewFlagSet("encrypt", flag.ExitOnError)
	encOwner := encCmd.String("owner", "", "owner id")
	encIn := encCmd.String("in", "", "file to encrypt")
	encName := encCmd.String("name", "", "stored filename (default: base name of --in)")

	// ---- decrypt ----
	decCmd := flag.NewFlagSet("decrypt", flag.ExitOnError)
	decOwner := decCmd.String("owner", "", "owner id")
	decID := decCmd.String("id", "", "file id")
	decOut := decCmd.String("out", "", "output path (default: stdout)")

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listOwner := listCmd.String("owner", "", "owner id")

	// ---- delete ----
	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delOwner := delCmd.String("owner", "", "owner id")
	delID := delCmd.String("id", "", "file id")

	// ---- verify-audit ----
	verifyCmd := flag.NewFlagSet("verify-audit", flag.ExitOnError)

	// ---- open-blob ----
	blobCmd := flag.NewFlagSet("open-blob", flag.ExitOnError)
	blobIn := blobCmd.String("in", "", "raw envelope file")
	blobSuite := blobCmd.String("suite", crypto.DefaultSuite().ID(), "cipher suite id recorded for the file")
	blobOut := blobCmd.String("out", "", "output path (default: stdout)")

	// ---- token ----
	tokCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokSub := tokCmd.String("sub", "", "subject (owner id)")
	tokRoles := tokCmd.String("roles", "user", "comma separated roles")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "encrypt":
		_ = encCmd.Parse(os.Args[2:])
		dieIf(cmdEncrypt(*encOwner, *encIn, *encName))

	case "decrypt":
		_ = decCmd.Parse(os.Args[2:])
		dieIf(cmdDecrypt(*decOwner, *decID, *decOut))

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		dieIf(cmdList(*listOwner))

	case "delete":
		_ = delCmd.Parse(os.Args[2:])
		dieIf(cmdDelete(*delOwner, *delID))

	case "verify-audit":
		_ = verifyCmd.Parse(os.Args[2:])
		dieIf(cmdVerifyAudit())

	case "open-blob":
		_ = blobCmd.Parse(os.Args[2:])
		dieIf(cmdOpenBlob(*blobIn, *blobSuite, *blobOut))

	case "token":
		_ = tokCmd.Parse(os.Args[2:])
		dieIf(cmdToken(*tokSub, *tokRoles))

	default:
		usage()
	}
}

// ============ Helper Functions ============

func usage() {
	fmt.Print(`vaultctl commands:

  encrypt      --owner ID --in path [--name filename]
  decrypt      --owner ID --id FILE_ID [--out path]
  list         --owner ID
  delete       --owner ID --id FILE_ID
  verify-audit
  open-blob    --in path [--suite SUITE_ID] [--out path]
  token        --sub ID [--roles user,admin]

Settings come from the environment and .env (VAULT_*), as for vaultd.

Examples:
  vaultctl encrypt --owner u1 --in ./report.pdf
  vaultctl decrypt --owner u1 --id 3f0c... --out ./report.pdf
  vaultctl open-blob --in ./secure_storage/3f0c....blob --suite PBKDF2-SHA256-390000/XCHACHA20-POLY1305
`)
}

// openApp loads configuration and opens the stores. Log output stays on
// stderr at warn level so stdout carries only command output.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := app.NewLogger(cfg)
	if log.GetLevel() > logrus.WarnLevel {
		log.SetLevel(logrus.WarnLevel)
	}
	return app.Open(ctx, cfg, log)
}

func cmdEncrypt(owner, in, name string) error {
	if owner == "" || in == "" {
		return errors.New("--owner and --in required")
	}
	if name == "" {
		name = filepath.Base(in)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	defer crypto.Zero(data)

	password, err := promptSecret("File password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(password)

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rec, err := a.Vault.Encrypt(ctx, owner, name, data, password)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func cmdDecrypt(owner, id, out string) error {
	if owner == "" || id == "" {
		return errors.New("--owner and --id required")
	}
	password, err := promptSecret("File password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(password)

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	pt, err := a.Vault.Decrypt(ctx, id, owner, password)
	if err != nil {
		return err
	}
	defer crypto.Zero(pt)
	return writeOutput(out, pt)
}

func cmdList(owner string) error {
	if owner == "" {
		return errors.New("--owner required")
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	recs, err := a.Vault.List(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(recs)
}

func cmdDelete(owner, id string) error {
	if owner == "" || id == "" {
		return errors.New("--owner and --id required")
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.Vault.Delete(ctx, id, owner); err != nil {
		return err
	}
	fmt.Println("Deleted file id:", id)
	return nil
}

func cmdVerifyAudit() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	err = a.Vault.VerifyAudit(ctx)
	var broken *audit.BrokenLinkError
	switch {
	case err == nil:
		fmt.Println("audit chain intact")
		return nil
	case errors.As(err, &broken):
		return fmt.Errorf("audit chain broken at entry %d (%s): %s", broken.Index, broken.EntryID, broken.Reason)
	default:
		return err
	}
}

// cmdOpenBlob decrypts a raw envelope without touching any store.
func cmdOpenBlob(in, suiteID, out string) error {
	if in == "" {
		return errors.New("--in required")
	}
	suite, err := crypto.ParseSuite(suiteID)
	if err != nil {
		return err
	}
	env, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	password, err := promptSecret("File password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(password)

	pt, err := crypto.OpenEnvelope(password, env, suite)
	if err != nil {
		return err
	}
	defer crypto.Zero(pt)
	return writeOutput(out, pt)
}

func cmdToken(sub, roles string) error {
	if sub == "" {
		return errors.New("--sub required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	seed, err := cfg.JWTSeedBytes()
	if err != nil {
		return err
	}
	if seed == nil {
		return errors.New("VAULT_JWT_SEED must be set so vaultd accepts the token")
	}
	signer, err := auth.NewJWTSignerFromSeed(seed, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return err
	}
	tok, exp, err := signer.IssueToken(sub, auth.ParseRoles(roles))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintln(os.Stderr, "expires:", exp.Format("2006-01-02 15:04:05 MST"))
	return nil
}

// ============ Utilities ============

func promptSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	br := bufio.NewReader(os.Stdin)
	secret, err := br.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(secret) > 0) {
		return nil, err
	}
	if len(secret) > 0 && secret[len(secret)-1] == '\n' {
		secret = secret[:len(secret)-1]
	}
	if len(secret) > 0 && secret[len(secret)-1] == '\r' {
		secret = secret[:len(secret)-1]
	}
	return secret, nil
}

// writeOutput writes plaintext to path, refusing to replace an existing
// file, or to stdout when path is empty.
func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
