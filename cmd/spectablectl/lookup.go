package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

const (
	lookupBasePath = "/api/lookup/v1"
	jobsBasePath   = "/api/jobs/v1"
	allShops       = "_all"
)

var errShopRequired = errors.New("a shop is required (use --shop or SPECTABLE_SHOP)")

func (c *cli) requireShop() error {
	if c.shop == "" {
		return errShopRequired
	}
	return nil
}

func (c *cli) newResolveCmd() *cobra.Command {
	var productID, collectionID string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the template for a product page",
		Long: `Resolve which template applies to a product page. A product match
outranks a collection match, which outranks the shop default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireShop(); err != nil {
				return err
			}
			q := url.Values{}
			if productID != "" {
				q.Set("productId", productID)
			}
			if collectionID != "" {
				q.Set("collectionId", collectionID)
			}

			var res resolution
			if err := c.client.do(http.MethodGet, lookupBasePath+"/resolve", q, nil, &res); err != nil {
				return err
			}
			return printOutput(c.out, c.format(), res,
				[]string{"template", "level", "found", "cached"},
				[][]string{{orDash(res.TemplateID), res.Level, strconv.FormatBool(res.Found), strconv.FormatBool(res.Cached)}})
		},
	}

	cmd.Flags().StringVar(&productID, "product", "", "Product id or GID")
	cmd.Flags().StringVar(&collectionID, "collection", "", "Collection id or GID")
	return cmd
}

func (c *cli) newRebuildCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the shop's lookup index",
		Long: `Rebuild the shop's lookup index and wait for the result. With --async
the rebuild is queued as a job instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireShop(); err != nil {
				return err
			}
			if async {
				return c.enqueue(c.shop)
			}

			var res rebuildResult
			if err := c.client.do(http.MethodPost, lookupBasePath+"/rebuild", nil, nil, &res); err != nil {
				return err
			}
			if c.format() == outputTable {
				fmt.Fprintf(c.out, "Rebuilt lookup index for %s\n", res.ShopID)
				fmt.Fprintf(c.out, "  Entries:   %d\n", res.Rebuilt)
				fmt.Fprintf(c.out, "  Skipped:   %d\n", res.Skipped)
				fmt.Fprintf(c.out, "  Conflicts: %d\n", res.Conflicts)
				fmt.Fprintf(c.out, "  Duration:  %s\n", res.Duration)
				return nil
			}
			return printOutput(c.out, c.format(), res, nil, nil)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Queue a rebuild job instead of waiting")
	return cmd
}

func (c *cli) newRebuildAllCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "rebuild-all",
		Short: "Rebuild the lookup index of every shop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if async {
				return c.enqueue(allShops)
			}

			var report rebuildAllReport
			if err := c.client.do(http.MethodPost, lookupBasePath+"/rebuild-all", nil, nil, &report); err != nil {
				return err
			}
			rows := make([][]string, 0, len(report.Shops))
			for _, s := range report.Shops {
				rows = append(rows, []string{s.ShopID, strconv.Itoa(s.Rebuilt), orDash(s.Error)})
			}
			if err := printOutput(c.out, c.format(), report, []string{"shop", "entries", "error"}, rows); err != nil {
				return err
			}
			if c.format() == outputTable {
				fmt.Fprintf(c.out, "\n%d succeeded, %d failed in %dms\n", report.Succeeded, report.Failed, report.DurationMs)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Queue a rebuild job instead of waiting")
	return cmd
}

func (c *cli) newEntriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entries",
		Short: "List the shop's lookup index rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireShop(); err != nil {
				return err
			}

			var resp entriesResponse
			if err := c.client.do(http.MethodGet, lookupBasePath+"/entries", nil, nil, &resp); err != nil {
				return err
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				rows = append(rows, []string{
					strconv.Itoa(e.Priority),
					orDash(e.ProductID),
					orDash(e.CollectionID),
					e.TemplateID,
					strconv.FormatBool(e.IsDefault),
				})
			}
			if err := printOutput(c.out, c.format(), resp,
				[]string{"priority", "product", "collection", "template", "default"}, rows); err != nil {
				return err
			}
			if c.format() == outputTable && resp.RebuildPhase != "" && resp.RebuildPhase != "idle" {
				fmt.Fprintf(c.out, "\nIndex is %s; rows may change shortly.\n", resp.RebuildPhase)
			}
			return nil
		},
	}
}

func (c *cli) enqueue(shopID string) error {
	body := map[string]string{"shopId": shopID, "trigger": "cli", "requestedBy": "spectablectl"}
	var resp enqueueResponse
	if err := c.client.do(http.MethodPost, jobsBasePath+"/rebuild", nil, body, &resp); err != nil {
		return err
	}
	if c.format() == outputTable {
		if resp.Coalesced {
			fmt.Fprintf(c.out, "Joined queued job %s for %s\n", resp.Job.ID, resp.Job.ShopID)
		} else {
			fmt.Fprintf(c.out, "Queued job %s for %s\n", resp.Job.ID, resp.Job.ShopID)
		}
		return nil
	}
	return printOutput(c.out, c.format(), resp, nil, nil)
}
