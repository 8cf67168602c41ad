package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/performance"
	"github.com/TobiSchelling/contentpilot/internal/pipeline"
	"github.com/TobiSchelling/contentpilot/internal/publish"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(opportunitiesCmd)
	rootCmd.AddCommand(draftsCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(tasksCmd)
}

// --- actions ---

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.discovery.Run(cmd.Context())
		if err != nil {
			return err
		}
		if r.Rescheduled {
			fmt.Println("Daily SERP allowance spent; discovery rescheduled for tomorrow.")
			return nil
		}
		fmt.Println("\nDiscovery complete:")
		fmt.Printf("  Candidates: %d\n", r.Candidates)
		fmt.Printf("  Analyzed: %d\n", r.Analyzed)
		fmt.Printf("  Saved: %d (%d new)\n", r.Saved, r.Created)
		fmt.Printf("  Skipped: %d\n", r.Skipped)
		return nil
	},
}

var dryRun bool

var generateCmd = &cobra.Command{
	Use:   "generate [opportunity-id]",
	Short: "Run the strategist, writer and reviewer for one opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "opportunity")
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var r *pipeline.Result
		if dryRun {
			r, err = a.pipeline.DryRun(id)
		} else {
			r, err = a.pipeline.Run(cmd.Context(), id)
		}
		if r != nil {
			for i, step := range r.Steps {
				fmt.Printf("\nStep %d/%d: %s\n", i+1, len(r.Steps), step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
		}
		if err != nil {
			return err
		}
		switch {
		case r.Rescheduled && !dryRun:
			fmt.Println("Weekly generation limit reached; queued for next week.")
		case !dryRun:
			fmt.Printf("\nDraft #%d is ready for review (score %d, cost $%.2f).\n", r.DraftID, r.QualityScore, r.Cost)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

var approveCmd = &cobra.Command{
	Use:   "approve [draft-id]",
	Short: "Approve and publish a reviewed draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "draft")
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.publisher.Approve(id)
		if err != nil {
			return err
		}
		fmt.Printf("Published %q at %s/%s\n", item.Title, strings.TrimRight(cfg.Site.BaseURL, "/"), item.Slug)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [draft-id]",
	Short: "Reject a draft and return its opportunity to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "draft")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := publish.New(db, nil, "").Reject(id); err != nil {
			return err
		}
		fmt.Printf("Rejected draft #%d; its opportunity is pending again\n", id)
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss [opportunity-id]",
	Short: "Dismiss an opportunity for good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "opportunity")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := publish.New(db, nil, "").Dismiss(id); err != nil {
			return err
		}
		fmt.Printf("Dismissed opportunity #%d\n", id)
		return nil
	},
}

// --- listings ---

var (
	statusFilter string
	minScore     int
	listLimit    int
)

var opportunitiesCmd = &cobra.Command{
	Use:   "opportunities",
	Short: "List opportunities by score",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := database.OpportunityFilter{MinScore: minScore, Limit: listLimit}
		if statusFilter != "" {
			status, err := lifecycle.ParseOpportunityStatus(statusFilter)
			if err != nil {
				return err
			}
			f.Status = status
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		opps, err := db.ListOpportunities(f)
		if err != nil {
			return err
		}
		if len(opps) == 0 {
			fmt.Println("No opportunities. Find some with: contentpilot discover")
			return nil
		}

		t := newTable("ID", "Score", "Query", "Type", "Volume", "Competition", "Position", "Status")
		for _, o := range opps {
			t.AppendRow(table.Row{o.ID, o.Score, o.Query, o.Type, optInt(o.SearchVolume),
				o.Competition, optInt(o.CurrentPosition), o.Status})
		}
		t.Render()
		return nil
	},
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List drafts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status lifecycle.DraftStatus
		if statusFilter != "" {
			parsed, err := lifecycle.ParseDraftStatus(statusFilter)
			if err != nil {
				return err
			}
			status = parsed
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		drafts, err := db.ListDrafts(status)
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			fmt.Println("No drafts.")
			return nil
		}

		t := newTable("ID", "Title", "Score", "Cost", "Status", "Created")
		for _, d := range drafts {
			t.AppendRow(table.Row{d.ID, truncate(d.Title, 60), optInt(d.QualityScore),
				fmt.Sprintf("$%.2f", d.GenerationCost), d.Status, d.CreatedAt.Format("2006-01-02")})
		}
		t.Render()
		return nil
	},
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List published content",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListItems(listLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Nothing published yet.")
			return nil
		}

		t := newTable("ID", "Slug", "Title", "Words", "Published")
		for _, it := range items {
			t.AppendRow(table.Row{it.ID, it.Slug, truncate(it.Title, 50), it.WordCount, it.PublishedAt.Format("2006-01-02")})
		}
		t.Render()
		return nil
	},
}

func init() {
	opportunitiesCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status")
	opportunitiesCmd.Flags().IntVar(&minScore, "min-score", 0, "Only show opportunities scoring at least this")
	opportunitiesCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum rows")
	draftsCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status")
	itemsCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum rows")
}

// --- catalog command ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product catalog drafts may reference",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add [id] [name] [url]",
	Short: "Add or update a product",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p := database.Product{ID: args[0], Name: args[1]}
		if len(args) > 2 {
			p.URL = args[2]
		}
		if err := db.UpsertProduct(p); err != nil {
			return err
		}
		fmt.Printf("Saved product [%s]: %s\n", p.ID, p.Name)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog products",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		products, err := db.ListProducts()
		if err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Println("Catalog is empty. Add a product with: contentpilot catalog add")
			return nil
		}
		t := newTable("ID", "Name", "URL")
		for _, p := range products {
			t.AppendRow(table.Row{p.ID, p.Name, p.URL})
		}
		t.Render()
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogListCmd)
}

// --- reporting ---

var (
	budgetMonths int
	taskLimit    int
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show external-service spend per month",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.governor.CurrentPeriod(); err != nil {
			return err
		}
		periods, err := a.db.ListBudgetPeriods(budgetMonths)
		if err != nil {
			return err
		}

		t := newTable("Month", "GSC", "SerpAPI", "LLM", "Pieces", "Total", "Per piece", "Vs agency", "Status")
		for i := range periods {
			r := a.governor.ReportFor(&periods[i])
			p := r.Period
			t.AppendRow(table.Row{p.Month, p.GSCRequests,
				fmt.Sprintf("%d / $%.2f", p.SerpAPIRequests, p.SerpAPICost),
				fmt.Sprintf("%d / $%.2f", p.LLMRequests, p.LLMCost),
				p.ContentPiecesGenerated, fmt.Sprintf("$%.2f", p.TotalCost),
				fmt.Sprintf("$%.2f", r.AvgCostPerPiece), fmt.Sprintf("$%.2f", r.SavingsVsAgency), r.Status})
		}
		t.Render()
		return nil
	},
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record this week's performance snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.tracker.Track(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("\nPeriod %s to %s\n", r.PeriodStart.Format("2006-01-02"), r.PeriodEnd.Format("2006-01-02"))
		if r.Site != nil {
			fmt.Printf("  Site: %d impressions, %d clicks, CTR %.2f%%\n",
				r.Site.Impressions, r.Site.Clicks, performance.CTR(r.Site.Clicks, r.Site.Impressions))
		}
		fmt.Printf("  Items tracked: %d\n", r.ItemsTracked)
		fmt.Printf("  Estimated traffic value: $%.2f\n", r.TrafficValue)

		if len(r.Underperformers) > 0 {
			fmt.Println("\nUnderperformers:")
			t := newTable("Slug", "Impressions", "Published")
			for _, u := range r.Underperformers {
				t.AppendRow(table.Row{u.Item.Slug, u.Impressions, u.Item.PublishedAt.Format("2006-01-02")})
			}
			t.Render()
		}
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List queued, running and dead tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tasks, err := db.ListTasks(statusFilter, taskLimit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		t := newTable("ID", "Kind", "Status", "Run at", "Attempts", "Last error")
		for _, task := range tasks {
			t.AppendRow(table.Row{task.ID, task.Kind, task.Status, task.RunAt.Format("2006-01-02 15:04"),
				task.Attempts, truncate(task.LastError, 50)})
		}
		t.Render()
		return nil
	},
}

func init() {
	budgetCmd.Flags().IntVar(&budgetMonths, "months", 6, "Number of months to show")
	tasksCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (queued, running, dead)")
	tasksCmd.Flags().IntVarP(&taskLimit, "limit", "n", 50, "Maximum rows")
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatUpper
	t.AppendHeader(table.Row(headers))
	return t
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, s)
	}
	return id, nil
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
