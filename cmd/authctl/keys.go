package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"budget-tracker/backend/internal/config"
	"budget-tracker/backend/internal/security"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Signing key operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newKeysInitCommand())
	cmd.AddCommand(newKeysJWKSCommand())
	cmd.AddCommand(newKeysImportCommand())
	return cmd
}

func newKeysInitCommand() *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new RSA signing key and write it as a JWK file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := keyFile(file)
			if err != nil {
				return err
			}
			if err := refuseOverwrite(path, force); err != nil {
				return err
			}
			pair, err := security.GenerateKeyPair(time.Now())
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if err := security.WriteKeyFile(path, pair); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (kid %s)\n", path, pair.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Key file path (default JWT_KEY_FILE)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing key file; every issued token becomes invalid")
	return cmd
}

func newKeysJWKSCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Print the public JWK set of an existing key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := keyFile(file)
			if err != nil {
				return err
			}
			return printJWKS(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Key file path (default JWT_KEY_FILE)")
	return cmd
}

func newKeysImportCommand() *cobra.Command {
	var (
		file  string
		kid   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "import <pem-file>",
		Short: "Convert a PEM RSA private key (PKCS#1 or PKCS#8) into a JWK key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := keyFile(file)
			if err != nil {
				return err
			}
			if err := refuseOverwrite(path, force); err != nil {
				return err
			}
			priv, err := security.ParseRSAPrivateKey(args[0])
			if err != nil {
				return fmt.Errorf("read pem: %w", err)
			}
			if kid == "" {
				kid = fmt.Sprintf("jwt-key-%d", time.Now().UnixMilli())
			}
			pair, err := security.NewKeyPair(priv, kid)
			if err != nil {
				return err
			}
			if err := security.WriteKeyFile(path, pair); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (kid %s)\n", path, pair.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Key file path (default JWT_KEY_FILE)")
	cmd.Flags().StringVar(&kid, "kid", "", "Key id (default jwt-key-<unix millis>)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing key file")
	return cmd
}

func printJWKS(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	pair, err := security.ParseKeyPairJWK(data)
	if err != nil {
		return err
	}
	raw, err := pair.PublicJWKS()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}

func keyFile(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return cfg.JWTKeyFile, nil
}

func refuseOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; pass --force to replace it", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
