package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/stompnet/internal/store"
)

func reportCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		driver string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print registered users, their sessions and file uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Driver = driver
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Store.Timeout)
			defer cancel()

			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			report, err := st.Report(ctx)
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&driver, "store", "", "store driver: sqlite or postgres")

	return cmd
}

func writeReport(w io.Writer, r *store.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "USER\tONLINE\tREGISTERED\tSESSIONS")
	for _, u := range r.Users {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\n", u.Username, u.Online, formatTime(u.RegisteredAt), len(u.Sessions))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "USER\tCONNECTION\tLOGIN\tLOGOUT")
	for _, u := range r.Users {
		for _, s := range u.Sessions {
			logout := "-"
			if s.LogoutAt != nil {
				logout = formatTime(*s.LogoutAt)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", u.Username, s.ConnectionID, formatTime(s.LoginAt), logout)
		}
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "USER\tFILE\tTOPIC\tUPLOADED")
	for _, up := range r.Uploads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", up.Username, up.Filename, up.Topic, formatTime(up.UploadedAt))
	}

	return tw.Flush()
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}
