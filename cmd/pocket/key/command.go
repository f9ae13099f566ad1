// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package key implements the "pocket key" CLI subcommands: generating
// age keypairs and backing up / restoring the keyfile sidecar of an
// encrypted dimension.
//
// A dimension's master key lives only in its .keyfile sidecar. Lose
// the sidecar and the data is gone, so backup seals the key with age
// (to recipients, or under a passphrase) into a blob that is safe to
// store anywhere, and restore puts it back.
package key

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
	"github.com/pocket-foundation/pocket/lib/dimension"
	"github.com/pocket-foundation/pocket/lib/sealed"
	"github.com/pocket-foundation/pocket/lib/secret"
)

// Command returns the top-level "key" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Summary: "Generate, back up, and restore encryption keys",
		Description: `Work with dimension encryption keys.

Encrypted dimensions keep their master key in a .keyfile sidecar next
to their index. These commands seal that key into a portable backup
blob (age encryption, to recipients or under a passphrase) and restore
it when the sidecar is lost.`,
		Subcommands: []*cli.Command{
			generateCommand(),
			backupCommand(),
			restoreCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Generate an age keypair for key backups",
				Command:     "pocket key generate --out backup.key",
			},
			{
				Description: "Back up a dimension key to a recipient",
				Command:     "pocket key backup dim-8c2f41d9 --recipient age1... --out dim.sealed",
			},
			{
				Description: "Restore a lost keyfile from a backup",
				Command:     "pocket key restore dim-8c2f41d9 --in dim.sealed --identity backup.key",
			},
		},
	}
}

// keyFilePath resolves the keyfile sidecar of a dimension under the
// engine root. Nested dimension ids contain slashes and resolve to
// their subdirectory.
func keyFilePath(root, id string) string {
	return filepath.Join(root, filepath.FromSlash(id), dimension.KeyFileName)
}

// --- generate ---

type generateParams struct {
	cli.JSONOutput
	Out string `json:"out" flag:"out,o" desc:"file to write the private identity to (required)"`
}

func generateCommand() *cli.Command {
	var params generateParams

	return &cli.Command{
		Name:    "generate",
		Summary: "Generate an age keypair for key backups",
		Usage:   "pocket key generate --out <identity-file> [flags]",
		Description: `Generate a fresh age x25519 keypair.

The private identity is written to --out with owner-only permissions;
the public key is printed to stdout. Seal backups to the public key
with "pocket key backup --recipient"; keep the identity file somewhere
safe and offline — anyone holding it can unseal every backup made to
its public key.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("generate", &params) },
		Run: func(args []string) error {
			if params.Out == "" {
				return fmt.Errorf("--out is required: the private identity must land in a file, not a terminal")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			identityLine := make([]byte, 0, keypair.PrivateKey.Len()+1)
			identityLine = append(identityLine, keypair.PrivateKey.Bytes()...)
			identityLine = append(identityLine, '\n')
			err = os.WriteFile(params.Out, identityLine, 0o600)
			secret.Zero(identityLine)
			if err != nil {
				return fmt.Errorf("writing identity file: %w", err)
			}

			if done, err := params.EmitJSON(map[string]string{
				"public_key":    keypair.PublicKey,
				"identity_file": params.Out,
			}); done {
				return err
			}

			fmt.Printf("public key: %s\n", keypair.PublicKey)
			fmt.Printf("identity written to %s\n", params.Out)
			return nil
		},
	}
}

// --- backup ---

type backupParams struct {
	cli.EngineConfig
	Recipients []string `json:"recipients" flag:"recipient,r" desc:"age public key to seal to (repeatable; omit to use a passphrase)"`
	Out        string   `json:"out"        flag:"out,o"       desc:"file to write the sealed backup to (default: stdout)"`
}

func backupCommand() *cli.Command {
	var params backupParams

	return &cli.Command{
		Name:    "backup",
		Summary: "Seal a dimension's key into a portable backup",
		Usage:   "pocket key backup <dimension-id> [flags]",
		Description: `Read the keyfile sidecar of an encrypted dimension and seal it
with age into a base64 blob.

With --recipient the key is sealed to the given age public keys and
only their identities can unseal it. Without --recipient you are
prompted for a passphrase (twice, echo off) and the key is sealed
under it with scrypt. The sealed blob reveals nothing about the key
and is safe to store alongside ordinary backups.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("backup", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("dimension id required\n\nUsage: pocket key backup <dimension-id> [flags]")
			}
			id := args[0]

			cfg, err := params.Load()
			if err != nil {
				return err
			}

			keyPath := keyFilePath(cfg.Root, id)
			key, err := secret.ReadFile(afero.NewOsFs(), keyPath)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("%s has no keyfile at %s: not an encrypted dimension, or the sidecar is already lost", id, keyPath)
				}
				return fmt.Errorf("reading keyfile: %w", err)
			}
			defer key.Close()

			if key.Len() != dimension.KeySize {
				return fmt.Errorf("keyfile %s holds %d bytes, want %d", keyPath, key.Len(), dimension.KeySize)
			}

			var ciphertext string
			if len(params.Recipients) > 0 {
				ciphertext, err = sealed.Seal(key, params.Recipients)
			} else {
				var passphrase *secret.Buffer
				passphrase, err = promptPassphrase(true)
				if err != nil {
					return err
				}
				defer passphrase.Close()
				ciphertext, err = sealed.SealWithPassphrase(key, passphrase)
			}
			if err != nil {
				return err
			}

			if params.Out != "" {
				if err := os.WriteFile(params.Out, []byte(ciphertext+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing sealed backup: %w", err)
				}
				fmt.Fprintf(os.Stderr, "sealed key for %s written to %s\n", id, params.Out)
				return nil
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
}

// --- restore ---

type restoreParams struct {
	cli.EngineConfig
	In       string `json:"in"       flag:"in,i"    desc:"sealed backup file (default: stdin)"`
	Identity string `json:"identity" flag:"identity" desc:"age identity file (omit to use a passphrase)"`
	Force    bool   `json:"force"    flag:"force"   desc:"overwrite an existing keyfile"`
}

func restoreCommand() *cli.Command {
	var params restoreParams

	return &cli.Command{
		Name:    "restore",
		Summary: "Restore a dimension's keyfile from a sealed backup",
		Usage:   "pocket key restore <dimension-id> [flags]",
		Description: `Unseal a backup made by "pocket key backup" and write the key
back as the dimension's keyfile sidecar.

Backups sealed to a recipient need the matching --identity file;
passphrase backups prompt for the passphrase. An existing keyfile is
never overwritten without --force — if the dimension opens fine, its
current keyfile is the right one.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("restore", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("dimension id required\n\nUsage: pocket key restore <dimension-id> [flags]")
			}
			id := args[0]

			cfg, err := params.Load()
			if err != nil {
				return err
			}

			dimensionDir := filepath.Join(cfg.Root, filepath.FromSlash(id))
			if _, err := os.Stat(dimensionDir); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("dimension %s does not exist under %s", id, cfg.Root)
				}
				return err
			}

			keyPath := keyFilePath(cfg.Root, id)
			if _, err := os.Stat(keyPath); err == nil && !params.Force {
				return fmt.Errorf("%s already has a keyfile; pass --force to replace it", id)
			}

			ciphertext, err := readCiphertext(params.In)
			if err != nil {
				return err
			}

			var key *secret.Buffer
			if params.Identity != "" {
				identity, err := readIdentityFile(params.Identity)
				if err != nil {
					return err
				}
				defer identity.Close()
				key, err = sealed.Unseal(ciphertext, identity)
				if err != nil {
					return err
				}
			} else {
				passphrase, err := promptPassphrase(false)
				if err != nil {
					return err
				}
				defer passphrase.Close()
				key, err = sealed.UnsealWithPassphrase(ciphertext, passphrase)
				if err != nil {
					return err
				}
			}
			defer key.Close()

			if key.Len() != dimension.KeySize {
				return fmt.Errorf("unsealed key holds %d bytes, want %d: not a dimension key backup", key.Len(), dimension.KeySize)
			}

			if err := os.WriteFile(keyPath, key.Bytes(), 0o600); err != nil {
				return fmt.Errorf("writing keyfile: %w", err)
			}

			fmt.Printf("keyfile restored for %s\n", id)
			return nil
		},
	}
}

// readCiphertext loads the sealed blob from a file or, when path is
// empty or "-", from stdin. Surrounding whitespace is trimmed so that
// blobs copied through editors or pipelines round-trip.
func readCiphertext(path string) (string, error) {
	var raw []byte
	var err error
	if path == "" || path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading sealed backup: %w", err)
	}
	ciphertext := strings.TrimSpace(string(raw))
	if ciphertext == "" {
		return "", fmt.Errorf("sealed backup is empty")
	}
	return ciphertext, nil
}

// readIdentityFile loads an age identity file into a protected buffer.
// Unlike raw keyfiles, identity files are text (AGE-SECRET-KEY-1...)
// and commonly end with a newline, so whitespace is trimmed before the
// bytes move into locked memory.
func readIdentityFile(path string) (*secret.Buffer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		secret.Zero(raw)
		return nil, fmt.Errorf("identity file %s is empty", path)
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(raw)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// promptPassphrase reads a passphrase from the terminal with echo
// disabled, confirming it when sealing. When stdin is not a terminal
// (tests, pipelines) a single line is read without prompting.
func promptPassphrase(confirm bool) (*secret.Buffer, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return nil, fmt.Errorf("passphrase is empty")
		}
		return secret.NewFromBytes([]byte(line))
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
		}
		match := bytes.Equal(first, second)
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return secret.NewFromBytes(first)
}
