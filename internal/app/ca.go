package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/proxy"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

func (c *cli) setupCACmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "setup-ca",
		Short: "Create the local CA used to inspect HTTPS traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.ensureDir(); err != nil {
				return err
			}
			ca, err := proxy.SetupCA(c.dir(), overwrite)
			if err != nil {
				return fmt.Errorf("setup-ca: %w", err)
			}
			fmt.Fprintln(c.out, "CA ready")
			fmt.Fprintf(c.out, "  cert: %s\n", ca.CertPath)
			fmt.Fprintf(c.out, "  key: %s\n", ca.KeyPath)
			fmt.Fprintf(c.out, "  sha256: %s\n", ca.Fingerprint)
			fmt.Fprintln(c.out)
			fmt.Fprintln(c.out, "Trust this CA in your browser or OS trust store to enable HTTPS payload inspection.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing CA cert/key")
	return cmd
}

func (c *cli) caCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Inspect, rotate or revoke the local CA",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the active CA",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := proxy.Status(c.dir())
				if err != nil {
					return err
				}
				if !st.Present {
					return fmt.Errorf("no active CA in %s; run `darkpatent setup-ca`", c.dir())
				}
				fmt.Fprintln(c.out, "CA status")
				fmt.Fprintf(c.out, "  cert: %s\n", st.CertPath)
				fmt.Fprintf(c.out, "  sha256: %s\n", st.Fingerprint)
				if info, err := os.Stat(util.CAKeyPath(c.dir())); err == nil {
					fmt.Fprintf(c.out, "  key mode: %04o\n", info.Mode().Perm())
				}
				expires := st.NotAfter.UTC().Format(time.RFC3339)
				if time.Until(st.NotAfter) < 30*24*time.Hour {
					expires = colorYellow.Sprint(expires)
				}
				fmt.Fprintf(c.out, "  expires: %s\n", expires)
				for _, r := range st.Retired {
					fmt.Fprintf(c.out, "  retired: %s\n", r)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Retire the current CA and create a new one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := c.ensureDir(); err != nil {
					return err
				}
				ca, retired, err := proxy.RotateCA(c.dir())
				if err != nil {
					return fmt.Errorf("ca rotate: %w", err)
				}
				fmt.Fprintln(c.out, "CA rotated")
				for _, r := range retired {
					fmt.Fprintf(c.out, "  retired: %s\n", r)
				}
				fmt.Fprintf(c.out, "  new cert: %s\n", ca.CertPath)
				fmt.Fprintf(c.out, "  new sha256: %s\n", ca.Fingerprint)
				fmt.Fprintln(c.out, "Trust the new cert and remove the old one from your trust store.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "revoke",
			Short: "Retire the current CA without replacing it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				retired, err := proxy.RevokeCA(c.dir())
				if err != nil {
					return fmt.Errorf("ca revoke: %w", err)
				}
				fmt.Fprintln(c.out, "CA revoked")
				for _, r := range retired {
					fmt.Fprintf(c.out, "  moved to: %s\n", r)
				}
				fmt.Fprintln(c.out, "Remove the cert from your trust store to fully disable trust.")
				return nil
			},
		},
	)
	return cmd
}
