package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/mbox"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/stats"
)

var headersToTrack = []string{"Delivered-To", "Subject", "From", "To"}

func newStatsCmd(a *app) *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	cmd := &cobra.Command{
		Use:   "stats [mbox file]",
		Short: "Analyse the mbox file and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mboxPath := args[0]
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Analyzing mbox file:", mboxPath)

			f, err := filter.New(a.cfg.FilterOptions())
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			counter := make(map[string]map[string]int)
			for _, h := range headersToTrack {
				counter[h] = make(map[string]int)
			}
			years := make(map[string]int)

			messageCount := 0
			skippedCount := 0
			unreadable, err := mbox.Scan(mboxPath, func(m *mbox.Summary) error {
				if err := cmd.Context().Err(); err != nil {
					return err
				}

				raw := formatHeaders(m.Headers) + "\n" + string(m.Body)
				if !f.Allows([]byte(raw)) {
					skippedCount++
					return nil
				}

				messageCount++
				for _, headerName := range headersToTrack {
					if value := m.Headers.Get(headerName); value != "" {
						counter[headerName][value]++
					}
				}
				year := model.UnknownYear
				if date, err := m.Headers.Date(); err == nil {
					year = model.YearOf(date)
				}
				years[year]++
				return nil
			})
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}

			totalMessages := messageCount + skippedCount
			var filterPercent float64
			if totalMessages > 0 {
				filterPercent = float64(skippedCount) / float64(totalMessages) * 100
			}
			fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%, %d unreadable)\n\n",
				messageCount, skippedCount, filterPercent, unreadable)

			if st := f.Stats(); len(st.Hits) > 0 {
				fmt.Fprintln(out, "Filter hits:")
				printFilterHits(out, st.Hits)
				fmt.Fprintln(out, "\n---")
				fmt.Fprintln(out)
			}

			fmt.Fprintln(out, "Messages per year:")
			yearKeys := make([]string, 0, len(years))
			for y := range years {
				yearKeys = append(yearKeys, y)
			}
			sort.Strings(yearKeys)
			for _, y := range yearKeys {
				fmt.Fprintf(out, "  %s: %d\n", y, years[y])
			}
			fmt.Fprintln(out)

			for _, header := range headersToTrack {
				fmt.Fprintf(out, "Top %d %s:\n", topN, header)
				stats.PrettyPrintTop(out, counter[header], topN)
				fmt.Fprintln(out)
			}

			if err := saveCSVReports(counter, headersToTrack, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}

			fmt.Fprintf(out, "Reports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "report-dir", "r", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	return cmd
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, counter[header], limit); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, counts map[string]int, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}

	type pair struct {
		Key   string
		Value int
	}
	pairs := make([]pair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		if err := writer.Write([]string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

// formatHeaders renders headers in sorted key order so filter matches do not
// depend on map iteration.
func formatHeaders(headers map[string][]string) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		for _, value := range headers[key] {
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func printFilterHits(out io.Writer, hits map[string]int64) {
	type pair struct {
		Rule  string
		Count int64
	}
	pairs := make([]pair, 0, len(hits))
	for rule, count := range hits {
		pairs = append(pairs, pair{rule, count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Rule < pairs[j].Rule
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", p.Rule, p.Count)
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", p.Rule)
		}
	}
}
