package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/luca-patrignani/greetme/discovery"
	"github.com/luca-patrignani/greetme/identity"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newKeygenCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the key pair used to sign greetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.KeyFile
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("key file %s already exists, use --force to replace it", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			kp, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := kp.Save(path); err != nil {
				return err
			}
			address, err := kp.Address()
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Key pair saved to %s", path)
			pterm.Info.Printfln("Your address: %s", pterm.LightCyan(address))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find greetme servers announced on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			d := a.cfg.Discovery
			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Scanning ports %d-%d...", d.StartPort, d.EndPort))
			entries, err := discovery.Scan(ctx,
				discovery.WithHost(d.Host),
				discovery.WithPortRange(d.StartPort, d.EndPort),
				discovery.WithAttempts(d.Attempts),
			)
			if err != nil && len(entries) == 0 {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(fmt.Sprintf("Found %d servers", len(entries)))
			if len(entries) == 0 {
				return nil
			}
			return renderEntries(entries)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up scanning after this long")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the greetme version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			pterm.Println(version)
		},
	}
}
