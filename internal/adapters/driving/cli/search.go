package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

var (
	searchLimit     int
	searchThreshold float64
	searchCategory  string
	searchDocument  string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Ranks indexed passages by semantic similarity to the query.
Results can be narrowed to one category or one document.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", domain.DefaultSearchLimit, "maximum number of results")
	searchCmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0,
		"minimum similarity between 0 and 1 (default from config)")
	searchCmd.Flags().StringVarP(&searchCategory, "category", "c", "", "only search documents in this category")
	searchCmd.Flags().StringVar(&searchDocument, "document", "", "only search this document")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	req := domain.SearchRequest{
		Query: args[0],
		Filters: domain.SearchFilters{
			Category:   domain.Category(strings.ToLower(searchCategory)),
			DocumentID: searchDocument,
		},
	}
	if cmd.Flags().Changed("limit") {
		n := searchLimit
		req.Limit = &n
	}
	if cmd.Flags().Changed("threshold") {
		t := searchThreshold
		req.Threshold = &t
	}

	results, err := searchService.Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}

	return outputSearchTable(cmd, results)
}

func outputSearchJSON(cmd *cobra.Command, results []domain.SearchMatch) error {
	if results == nil {
		results = []domain.SearchMatch{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []domain.SearchMatch) error {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i := range results {
		// Format: [N] Title - Category (Score)
		title := results[i].DocumentTitle
		if title == "" {
			title = results[i].DocumentID
		}

		cmd.Printf("  [%d] %s - %s (%.2f)\n", i+1, title, results[i].Category, results[i].Score)
		cmd.Printf("      %s\n", snippet(results[i].Content, 160))
		cmd.Println()
	}

	return nil
}

// snippet flattens whitespace and truncates to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
