package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/cryptoutil"
)

const passphraseEnv = "DARKPATENT_PASSPHRASE"

func (c *cli) cryptoCmd() *cobra.Command {
	var (
		in, out, passFile, alg string
		iterations             int
	)
	sealer := func() (*cryptoutil.Sealer, error) {
		a, err := cryptoutil.ParseAlgorithm(alg)
		if err != nil {
			return nil, err
		}
		return cryptoutil.New(a, iterations)
	}
	bind := func(cmd *cobra.Command) *cobra.Command {
		f := cmd.Flags()
		f.StringVarP(&in, "in", "i", "-", "input file, - for stdin")
		f.StringVarP(&out, "out", "o", "-", "output file, - for stdout")
		f.StringVar(&passFile, "passphrase-file", "", "read the passphrase from a file (default $"+passphraseEnv+")")
		f.StringVar(&alg, "alg", string(cryptoutil.AES256GCM), "cipher suite: aes-256-gcm or sm4-gcm")
		f.IntVar(&iterations, "iterations", cryptoutil.DefaultIterations, "PBKDF2 iterations")
		return cmd
	}

	encrypt := bind(&cobra.Command{
		Use:   "encrypt",
		Short: "Seal a file with a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sealer()
			if err != nil {
				return err
			}
			pass, err := c.passphrase(passFile)
			if err != nil {
				return err
			}
			plain, err := c.readInput(in)
			if err != nil {
				return err
			}
			env, err := s.Seal(pass, plain)
			if err != nil {
				return err
			}
			return c.writeOutput(out, []byte(env+"\n"))
		},
	})
	decrypt := bind(&cobra.Command{
		Use:   "decrypt",
		Short: "Open a sealed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sealer()
			if err != nil {
				return err
			}
			pass, err := c.passphrase(passFile)
			if err != nil {
				return err
			}
			env, err := c.readInput(in)
			if err != nil {
				return err
			}
			plain, err := s.Open(pass, string(bytes.TrimSpace(env)))
			if err != nil {
				return err
			}
			return c.writeOutput(out, plain)
		},
	})

	cmd := &cobra.Command{Use: "crypto", Short: "Passphrase encryption for exported data"}
	cmd.AddCommand(encrypt, decrypt)
	return cmd
}

func (c *cli) passphrase(file string) ([]byte, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return bytes.TrimRight(raw, "\r\n"), nil
	}
	if v := os.Getenv(passphraseEnv); v != "" {
		return []byte(v), nil
	}
	return nil, errors.New("no passphrase: set " + passphraseEnv + " or pass --passphrase-file")
}

func (c *cli) readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(c.in)
	}
	return os.ReadFile(path)
}

func (c *cli) writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := c.out.Write(data)
		return err
	}
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return fmt.Errorf("output %q is a directory", path)
	}
	return os.WriteFile(path, data, 0o600)
}
