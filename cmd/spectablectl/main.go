// Package main provides spectablectl, a CLI for the spectable server's
// lookup and rebuild job APIs.
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the global flags and the output stream shared by every
// subcommand.
type cli struct {
	serverURL string
	output    string
	shop      string
	out       io.Writer
	client    *ctlClient
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:   "spectablectl",
		Short: "CLI for the spectable template lookup server",
		Long: `spectablectl inspects and maintains the template lookup index of a
spectable server: resolve a product page, rebuild a shop, list the
index rows and manage queued rebuild jobs.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.shop == "" {
				c.shop = os.Getenv("SPECTABLE_SHOP")
			}
			if _, err := parseOutputFormat(c.output); err != nil {
				return err
			}
			c.client = newCtlClient(c.serverURL, c.shop)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8080", "Spectable server URL")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&c.shop, "shop", "", "Shop domain (default: from SPECTABLE_SHOP env)")

	rootCmd.AddCommand(c.newResolveCmd())
	rootCmd.AddCommand(c.newRebuildCmd())
	rootCmd.AddCommand(c.newRebuildAllCmd())
	rootCmd.AddCommand(c.newEntriesCmd())
	rootCmd.AddCommand(c.newJobsCmd())

	return rootCmd
}

func (c *cli) format() outputFormat {
	f, _ := parseOutputFormat(c.output)
	return f
}
