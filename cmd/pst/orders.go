package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/postavshik/internal/models"
)

func newOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orders",
		Aliases: []string{"order"},
		Short:   "Purchase orders and offers",
	}

	cmd.AddCommand(newOrdersListCmd("list", "List active orders", false))
	cmd.AddCommand(newOrdersListCmd("mine", "List orders you created", true))
	cmd.AddCommand(newOrdersCreateCmd())
	cmd.AddCommand(newOrdersOffersCmd())
	cmd.AddCommand(newOrdersOfferCmd())
	return cmd
}

func newOrdersListCmd(use, short string, mine bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			list := a.dir.ListOrders
			if mine {
				if _, err := a.auth.RequireToken(); err != nil {
					return fmt.Errorf("%w: run 'pst auth login' first", err)
				}
				list = a.dir.MyOrders
			}
			page, err := list(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Results) == 0 {
				fmt.Fprintln(out, "No orders found.")
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tTITLE\tBUDGET\tREGION\tDEADLINE\tOFFERS\tSTATUS")
			for _, o := range page.Results {
				title := truncate(o.Title, 36)
				if o.IsUrgent {
					title = "! " + title
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					o.ID, title, models.FormatBudget(o.BudgetMin, o.BudgetMax),
					orDash(o.Region), orDash(o.Deadline), o.OffersCount, orDash(o.Status))
			}
			w.Flush()
			fmt.Fprintln(out, pageFooter(page))
			return nil
		},
	}
}

// parseAmount reads an optional money flag; empty means unset.
func parseAmount(flag, s string) (models.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Amount{}, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, " ", ""), 64)
	if err != nil {
		return models.Amount{}, fmt.Errorf("--%s: %q is not a number", flag, s)
	}
	return models.NewAmount(v), nil
}

func newOrdersCreateCmd() *cobra.Command {
	var (
		in        models.OrderInput
		budgetMin string
		budgetMax string
		category  int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a purchase order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.BudgetMin, err = parseAmount("budget-min", budgetMin); err != nil {
				return err
			}
			if in.BudgetMax, err = parseAmount("budget-max", budgetMax); err != nil {
				return err
			}
			if cmd.Flags().Changed("category") {
				in.Category = &category
			}
			if err := in.Validate(); err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			o, err := a.dir.CreateOrder(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created order %d: %s (%s)\n",
				o.ID, o.Title, models.FormatBudget(o.BudgetMin, o.BudgetMax))
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.Title, "title", "t", "", "order title (required)")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "what you need (required)")
	cmd.Flags().StringVar(&budgetMin, "budget-min", "", "lower budget bound")
	cmd.Flags().StringVar(&budgetMax, "budget-max", "", "upper budget bound")
	cmd.Flags().StringVar(&in.Region, "region", "", "delivery region")
	cmd.Flags().StringVar(&in.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().IntVar(&category, "category", 0, "category id")
	return cmd
}

func newOrdersOffersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offers <order-id>",
		Short: "List offers received on one of your orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "order id")
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			page, err := a.dir.OrderOffers(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Results) == 0 {
				fmt.Fprintf(out, "No offers on order %d yet.\n", id)
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tSUPPLIER\tPRICE\tDAYS\tSELECTED\tCOMMENT")
			for _, o := range page.Results {
				selected := ""
				if o.IsSelected {
					selected = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
					o.ID, orDash(o.SupplierEmail), models.FormatAmount(o.Price), o.DeliveryDays, selected, truncate(o.Comment, 40))
			}
			w.Flush()
			fmt.Fprintln(out, pageFooter(page))
			return nil
		},
	}
}

func newOrdersOfferCmd() *cobra.Command {
	var (
		price string
		in    models.OfferInput
	)

	cmd := &cobra.Command{
		Use:   "offer <order-id>",
		Short: "Submit an offer on an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "order id")
			if err != nil {
				return err
			}
			if in.Price, err = parseAmount("price", price); err != nil {
				return err
			}
			if err := in.Validate(); err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			o, err := a.dir.CreateOffer(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted offer %d on order %d: %s, %d days\n",
				o.ID, id, models.FormatAmount(o.Price), o.DeliveryDays)
			return nil
		},
	}

	cmd.Flags().StringVar(&price, "price", "", "offered price (required)")
	cmd.Flags().IntVar(&in.DeliveryDays, "days", 0, "delivery time in days (required)")
	cmd.Flags().StringVar(&in.Comment, "comment", "", "note for the buyer")
	return cmd
}
