package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luca-patrignani/greetme/api"
	"github.com/luca-patrignani/greetme/identity"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newGreetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "greet <text>",
		Short: "Sign and submit a greeting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.Load(a.cfg.KeyFile)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no key file at %s, run `greetme keygen` first", a.cfg.KeyFile)
			}
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Submitting greeting...")
			receipt, err := client.Submit(cmd.Context(), kp, strings.Join(args, " "))
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(fmt.Sprintf("Greeting #%d recorded", receipt.Greeting.ID))
			printReceipt(receipt)
			return nil
		},
	}
}

func newFeedCmd(a *app) *cobra.Command {
	var (
		page, size int
		follow     bool
		all        bool
		encoding   string
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the latest greetings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow {
				return followFeed(cmd.Context(), a, encoding)
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if all {
				return printAllPages(cmd.Context(), client, size)
			}
			p, err := client.Greetings(cmd.Context(), page, size)
			if errors.Is(err, ledger.ErrNoMoreRecords) {
				pterm.Info.Println("No more greetings to show.")
				return nil
			}
			if err != nil {
				return err
			}
			return renderGreetings(p.Records)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&page, "page", 1, "page number, starting at 1")
	flags.IntVar(&size, "size", 10, "greetings per page")
	flags.BoolVar(&follow, "follow", false, "stream new greetings as they arrive")
	flags.BoolVar(&all, "all", false, "page through every greeting")
	flags.StringVar(&encoding, "encoding", "", "live feed encoding: json or msgpack")
	return cmd
}

// printAllPages walks the feed until the server reports there is nothing
// left.
func printAllPages(ctx context.Context, client *api.Client, size int) error {
	for page := 1; ; page++ {
		p, err := client.Greetings(ctx, page, size)
		if errors.Is(err, ledger.ErrNoMoreRecords) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := renderGreetings(p.Records); err != nil {
			return err
		}
	}
}

func followFeed(ctx context.Context, a *app, encoding string) error {
	client, err := a.client(api.WithFeedEncoding(encoding))
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Following %s, press ctrl+c to stop", a.cfg.API.URL)
	return client.Follow(ctx, func(ev ledger.Event) error {
		pterm.Println(eventLine(ev))
		return nil
	})
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of greetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			total, err := client.Count(cmd.Context())
			if err != nil {
				return err
			}
			pterm.Printfln("%d", total)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the reward fund and ledger state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			v, err := client.Verify(cmd.Context())
			if err != nil {
				return err
			}
			return renderStatus(st, v)
		},
	}
}
