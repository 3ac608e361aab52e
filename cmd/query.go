package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/s0up4200/exactonline/exact"
	"github.com/s0up4200/exactonline/filter"
)

var (
	selectFields []string
	odataFilter  string
	orderBy      string
	top          int
	fetchAll     bool
	filterExpr   string
	preset       string
)

// meCmd shows the authenticated user
var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in user and current division",
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := exact.CurrentUser(cmd.Context(), conn)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Name:\t%s\n", me.FullName)
		fmt.Fprintf(w, "User:\t%s\n", me.UserName)
		fmt.Fprintf(w, "Email:\t%s\n", me.Email)
		fmt.Fprintf(w, "Current division:\t%d\n", me.CurrentDivision)
		return w.Flush()
	},
}

// divisionsCmd lists the divisions the user can access
var divisionsCmd = &cobra.Command{
	Use:   "divisions",
	Short: "List accessible divisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureDivision(ctx); err != nil {
			return err
		}

		divisions, err := exact.Divisions(conn).ListAll(ctx, exact.Query{
			Select:  []string{"Code", "Description", "Country", "Currency"},
			OrderBy: "Code",
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tDESCRIPTION\tCOUNTRY\tCURRENCY")
		for _, d := range divisions {
			marker := ""
			if d.Code == conn.Division() {
				marker = " *"
			}
			fmt.Fprintf(w, "%d%s\t%s\t%s\t%s\n", d.Code, marker, d.Description, d.Country, d.Currency)
		}
		return w.Flush()
	},
}

// getCmd fetches a single page from any endpoint
var getCmd = &cobra.Command{
	Use:   "get <endpoint>",
	Short: "GET an endpoint and print the JSON payload",
	Example: `  exactonline get current/Me
  exactonline get "crm/Accounts(guid'00000000-0000-0000-0000-000000000000')"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		endpoint := args[0]
		if exact.RequiresDivision(endpoint) {
			if err := ensureDivision(ctx); err != nil {
				return err
			}
		}

		res, err := conn.Get(ctx, endpoint, query().Values())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res.Data)
	},
}

// listCmd lists a collection and applies an optional client-side filter
var listCmd = &cobra.Command{
	Use:   "list <endpoint>",
	Short: "List records of a collection, optionally filtered",
	Long: `List records of a collection. --odata-filter is sent to Exact Online;
--filter and --preset are expr expressions evaluated locally on each record.`,
	Example: `  exactonline list crm/Accounts --select ID,Name,IsSupplier --filter 'IsSupplier'
  exactonline list logistics/Items --all --filter 'Modified > daysAgo(30)'`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	for _, c := range []*cobra.Command{getCmd, listCmd} {
		c.Flags().StringSliceVarP(&selectFields, "select", "s", nil, "properties to return ($select)")
		c.Flags().StringVar(&odataFilter, "odata-filter", "", "server-side OData filter ($filter)")
	}

	listCmd.Flags().StringVar(&orderBy, "order-by", "", "sort order ($orderby)")
	listCmd.Flags().IntVar(&top, "top", 0, "maximum number of records per page ($top)")
	listCmd.Flags().BoolVar(&fetchAll, "all", false, "follow pagination links and fetch every page")
	listCmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression")
	listCmd.Flags().StringVarP(&preset, "preset", "p", "", "use a preset filter from config")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	endpoint := args[0]

	// Compile first so a typo fails before any request
	compiled, err := getFilter()
	if err != nil {
		return err
	}

	if exact.RequiresDivision(endpoint) {
		if err := ensureDivision(ctx); err != nil {
			return err
		}
	}

	var raw []json.RawMessage
	if fetchAll {
		raw, err = conn.GetAll(ctx, endpoint, query().Values())
	} else {
		var res *exact.Result
		if res, err = conn.Get(ctx, endpoint, query().Values()); err == nil {
			raw, err = res.Items()
		}
	}
	if err != nil {
		return err
	}

	records, err := filter.DecodeRecords(raw)
	if err != nil {
		return err
	}

	if compiled != nil {
		total := len(records)
		records, err = filters.Evaluate(ctx, compiled, records)
		if err != nil {
			return fmt.Errorf("failed to apply filter: %w", err)
		}
		logger.Info().
			Str("filter", compiled.Expression()).
			Int("matched", len(records)).
			Int("total", total).
			Msg("Filtered records")
	}

	return printJSON(cmd.OutOrStdout(), records)
}

func query() exact.Query {
	return exact.Query{
		Select:  selectFields,
		Filter:  odataFilter,
		OrderBy: orderBy,
		Top:     top,
	}
}

// getFilter determines the filter to use. No flag means no filtering.
func getFilter() (filter.CompiledFilter, error) {
	// Priority: command line filter > preset
	if strings.TrimSpace(filterExpr) != "" {
		compiled, err := filters.Compile(filterExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
		return compiled, nil
	}

	if preset != "" {
		compiled, ok := filters.GetFilter(strings.ToLower(preset))
		if !ok {
			return nil, fmt.Errorf("preset '%s' not found in config", preset)
		}
		return compiled, nil
	}

	return nil, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
