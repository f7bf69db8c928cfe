package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *cli) newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel rebuild jobs",
	}

	cmd.AddCommand(c.newJobsListCmd())
	cmd.AddCommand(c.newJobsGetCmd())
	cmd.AddCommand(c.newJobsCancelCmd())

	return cmd
}

func (c *cli) newJobsListCmd() *cobra.Command {
	var (
		state     string
		trigger   string
		pageSize  int
		pageToken string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rebuild jobs, newest first",
		Long:  "List rebuild jobs, newest first. --shop narrows the list to one shop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if c.shop != "" {
				q.Set("shopId", c.shop)
			}
			if state != "" {
				q.Set("state", state)
			}
			if trigger != "" {
				q.Set("trigger", trigger)
			}
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}

			var resp jobListResponse
			if err := c.client.do(http.MethodGet, jobsBasePath+"/rebuild", q, nil, &resp); err != nil {
				return err
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, j := range resp.Jobs {
				rows = append(rows, []string{
					j.ID, j.ShopID, j.State, j.Trigger, strconv.Itoa(j.AttemptCount), j.RequestedAt,
				})
			}
			if err := printOutput(c.out, c.format(), resp,
				[]string{"id", "shop", "state", "trigger", "attempts", "requested"}, rows); err != nil {
				return err
			}
			if c.format() == outputTable && resp.NextPageToken != "" {
				fmt.Fprintf(c.out, "\nMore jobs: --page-token %s\n", resp.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, running, succeeded, failed, canceled)")
	cmd.Flags().StringVar(&trigger, "trigger", "", "Filter by trigger (api, webhook, cli)")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Jobs per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func (c *cli) newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show one rebuild job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var j job
			if err := c.client.do(http.MethodGet, jobsBasePath+"/rebuild/"+url.PathEscape(args[0]), nil, nil, &j); err != nil {
				return err
			}
			if c.format() != outputTable {
				return printOutput(c.out, c.format(), j, nil, nil)
			}

			fmt.Fprintf(c.out, "Job %s\n", j.ID)
			fmt.Fprintf(c.out, "  Shop:       %s\n", j.ShopID)
			fmt.Fprintf(c.out, "  State:      %s\n", j.State)
			fmt.Fprintf(c.out, "  Trigger:    %s (%s)\n", j.Trigger, j.RequestedBy)
			fmt.Fprintf(c.out, "  Requested:  %s\n", j.RequestedAt)
			fmt.Fprintf(c.out, "  Attempts:   %d\n", j.AttemptCount)
			if j.Coalesced > 0 {
				fmt.Fprintf(c.out, "  Coalesced:  %d\n", j.Coalesced)
			}
			if j.Message != "" {
				fmt.Fprintf(c.out, "  Message:    %s\n", j.Message)
			}
			if j.LastError != "" {
				fmt.Fprintf(c.out, "  Last error: %s\n", j.LastError)
			}
			return nil
		},
	}
}

func (c *cli) newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued rebuild job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := jobsBasePath + "/rebuild/" + url.PathEscape(args[0]) + ":cancel"
			if err := c.client.do(http.MethodPost, path, nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Canceled job %s\n", args[0])
			return nil
		},
	}
}
