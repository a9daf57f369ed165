package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const secretKey = "SESSION_SECRET"

func newSecretCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a session secret and store it in the env file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeSecret(opts.envFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", secretKey, opts.envFile)
			return nil
		},
	}
}

// writeSecret replaces SESSION_SECRET in path with 32 random bytes in hex,
// keeping every other variable. The file is created when missing.
func writeSecret(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		env = map[string]string{}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	env[secretKey] = hex.EncodeToString(buf)

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
