package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/StinkyLord/cpe-identifier/internal/analyzer"
	"github.com/StinkyLord/cpe-identifier/internal/evidence"
)

var (
	flagVendor  string
	flagProduct string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the vendor/product index",
	Long: `Search the catalog's vendor/product index the way the identify command
does and print the hits with their scores. Without --vendor and --product
the command prompts for them repeatedly until end of input.

Examples:
  cpe-identifier search --catalog nvd.db --vendor apache --product "struts2 core"
  cpe-identifier search --catalog nvd.db`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&flagVendor, "vendor", "", "Vendor terms")
	searchCmd.Flags().StringVar(&flagProduct, "product", "", "Product terms")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	a, idx, err := env.prepare(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer idx.Close()

	out := cmd.OutOrStdout()
	if flagVendor != "" || flagProduct != "" {
		return printHits(out, a, flagVendor, flagProduct)
	}

	in := bufio.NewScanner(os.Stdin)
	prompt := func(label string) (string, bool) {
		fmt.Fprintf(out, "%s: ", label)
		if !in.Scan() {
			return "", false
		}
		return in.Text(), true
	}
	for {
		vendor, ok := prompt("Vendor")
		if !ok {
			break
		}
		product, ok := prompt("Product")
		if !ok {
			break
		}
		if err := printHits(out, a, vendor, product); err != nil {
			fmt.Fprintln(out, err)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)
	return in.Err()
}

func printHits(w io.Writer, a *analyzer.Analyzer, vendor, product string) error {
	vendors, products := evidence.NewTerms(), evidence.NewTerms()
	for _, t := range strings.Fields(vendor) {
		vendors.Add(t)
	}
	for _, t := range strings.Fields(product) {
		products.Add(t)
	}
	hits, err := a.Search(vendors, products, nil, nil)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(w, "%s:%s (%f)\n", h.Vendor, h.Product, h.Score)
	}
	return nil
}
