package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zulandar/postavshik/internal/models"
	"github.com/zulandar/postavshik/internal/verify"
)

func newSuppliersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "suppliers",
		Aliases: []string{"supplier"},
		Short:   "Browse and verify suppliers",
	}

	cmd.AddCommand(newSuppliersListCmd())
	cmd.AddCommand(newSuppliersVerifyCmd())
	cmd.AddCommand(newSuppliersContactsCmd())
	cmd.AddCommand(newSuppliersWatchCmd())
	return cmd
}

func addSupplierFilterFlags(cmd *cobra.Command, f *models.SupplierFilters) {
	cmd.Flags().StringVarP(&f.Search, "search", "s", "", "free-text search")
	cmd.Flags().StringVar(&f.Country, "country", "", "filter by country")
	cmd.Flags().StringVar(&f.Category, "category", "", "filter by category slug")
}

func newSuppliersListCmd() *cobra.Command {
	var filters models.SupplierFilters

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filters.Page < 0 {
				return fmt.Errorf("--page must be positive")
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			page, err := a.dir.ListSuppliers(cmd.Context(), filters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Results) == 0 {
				fmt.Fprintln(out, "No suppliers found.")
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tNAME\tCOUNTRY\tCATEGORY\tMOQ\tVERIFICATION")
			for _, s := range page.Results {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, truncate(s.Name, 32), orDash(s.Country), s.CategoryName(), s.MOQ, s.Badge())
			}
			w.Flush()
			fmt.Fprintln(out, pageFooter(page))
			return nil
		},
	}

	addSupplierFilterFlags(cmd, &filters)
	cmd.Flags().IntVar(&filters.Page, "page", 0, "page number")
	return cmd
}

func parseID(arg, what string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

func newSuppliersVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <supplier-id>",
		Short: "Trigger registry verification for a supplier",
		Long:  "Queues a server-side registry check. Use 'pst suppliers watch' to see the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "supplier id")
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.dir.VerifySupplier(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verification queued for supplier %d (task %s, status %s)\n",
				id, orDash(task.TaskID), task.Status)
			return nil
		},
	}
}

func newSuppliersContactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts <supplier-id>",
		Short: "Show supplier contact details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "supplier id")
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.dir.SupplierContacts(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Email: %s\n", orDash(c.Email))
			fmt.Fprintf(out, "Phone: %s\n", orDash(c.Phone))
			return nil
		},
	}
}

func newSuppliersWatchCmd() *cobra.Command {
	var (
		filters  models.SupplierFilters
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Report verification status changes as they happen",
		Long:  "Polls the supplier directory on a cron schedule and prints every verification status change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if schedule == "" {
				schedule = a.cfg.Watch.Schedule
			}
			w, err := verify.NewWatcher(verify.WatcherOpts{
				Lister:   a.dir,
				Filters:  filters,
				Schedule: schedule,
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching supplier verification (%s). Ctrl-C to stop.\n", schedule)
			for t := range w.Run(ctx) {
				fmt.Fprintf(out, "%s  %s\n", t.At.Format("15:04:05"), t)
			}
			return nil
		},
	}

	addSupplierFilterFlags(cmd, &filters)
	cmd.Flags().StringVar(&schedule, "schedule", "", "5-field cron schedule (default from config)")
	return cmd
}
