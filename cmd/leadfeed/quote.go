package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/leadfeed/internal/client"
	"github.com/dgnsrekt/leadfeed/internal/quote"
)

func quoteCmd() *cobra.Command {
	var (
		params    quote.Params
		cacheFile string
		noCache   bool
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch an estimated rate quote",
		Long: `Fetch a rate quote. A cached quote for the same inputs is printed right
away and replaced once the live quote arrives; if the live request fails the
cached estimate stays on screen.

Examples:
  leadfeed quote --zip 30301 --credit-range 720-759 --home-value 450000 --current-balance 300000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cache *client.QuoteCache
			if !noCache {
				if cacheFile == "" {
					cacheFile = defaultQuoteCachePath()
				}
				var err error
				cache, err = client.OpenQuoteCache(cacheFile)
				if err != nil {
					return err
				}
			}
			return runQuote(cmd.Context(), params, cache)
		},
	}

	cmd.Flags().StringVar(&params.Zip, "zip", "", "property zip code")
	cmd.Flags().StringVar(&params.CreditRange, "credit-range", "", "credit range (760+, 720-759, 680-719, below-680)")
	cmd.Flags().Float64Var(&params.HomeValue, "home-value", 0, "estimated home value")
	cmd.Flags().Float64Var(&params.CurrentBalance, "current-balance", 0, "current mortgage balance")
	cmd.Flags().StringVar(&cacheFile, "cache-file", "", "quote cache file (default: user cache dir)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "keep the cache in memory only")
	for _, name := range []string{"zip", "credit-range", "home-value", "current-balance"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func defaultQuoteCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "leadfeed", "quotes.json")
}

func runQuote(ctx context.Context, params quote.Params, cache *client.QuoteCache) error {
	loader := client.NewQuoteLoader(newHTTPClient(""), cache, nil, logger)

	initial, updates := loader.Load(ctx, params)
	printQuote(initial)

	for st := range updates {
		printQuote(st)
		if st.Status == client.QuoteError && st.Quote == nil {
			return st.Err
		}
	}
	return ctx.Err()
}

func printQuote(st client.QuoteState) {
	switch st.Status {
	case client.QuoteLoading:
		fmt.Println("loading estimated rate...")
		return
	case client.QuoteError:
		fmt.Println(st.Message)
		if st.Quote == nil {
			return
		}
	}

	q := st.Quote
	fmt.Printf("%-7s rate=%.2f%% payment=$%d/mo", st.Status, q.EstimatedRate, q.MonthlyPayment)
	if q.LockExpiresOn != "" {
		fmt.Printf(" lock-expires=%s", q.LockExpiresOn)
	}
	if !st.StaleAt.IsZero() {
		fmt.Printf(" cached=%s", st.StaleAt.Local().Format(time.DateTime))
	}
	fmt.Println()
}
