// Report Activity Tool summarises civic report activity from ClickHouse.
//
// Usage:
//
//	go run ./tools/report_activity -days=30
//
// The tool prints:
//   - totals per lifecycle event over the window
//   - a daily breakdown
//   - per-category volumes, resolution rate and average resolution time
//   - the device types and countries reports are filed from
//
// Configuration:
//
//	-days: Optional. Number of days to include in the report (default: 7)
//	-clickhouse-dsn: Optional. ClickHouse connection string (default: tcp://localhost:9000)
//	-json: Optional. Emit the summary as JSON instead of tables
//
// Environment Variables:
//
//	CLICKHOUSE_DSN: ClickHouse connection string (overridden by -clickhouse-dsn flag)
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/civicreport/internal/reporting"
)

func main() {
	var (
		days    = flag.Int("days", 7, "Number of days to include in report")
		dsn     = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "tcp://localhost:9000"), "ClickHouse DSN")
		asJSON  = flag.Bool("json", false, "Print the summary as JSON")
		timeout = flag.Duration("timeout", 30*time.Second, "Query timeout")
	)
	flag.Parse()

	if *days <= 0 {
		fmt.Fprintf(os.Stderr, "Error: days must be positive\n")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("clickhouse", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging ClickHouse: %v\n", err)
		os.Exit(1)
	}

	summary, err := reporting.GenerateActivityReport(ctx, db, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printActivityReport(summary)
}

const rule = "───────────────────────────────────────────────────────────────────────────────────\n"

func printActivityReport(summary *reporting.ActivitySummary) {
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("                                REPORT ACTIVITY SUMMARY                            \n")
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("Report Period: %d days (ending %s)\n", summary.Days, time.Now().Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	t := summary.Totals
	fmt.Printf("📊 TOTALS\n")
	fmt.Print(rule)
	fmt.Printf("Created:         %s\n", formatNumber(t.Created))
	fmt.Printf("Updated:         %s\n", formatNumber(t.Updated))
	fmt.Printf("Resolved:        %s\n", formatNumber(t.Resolved))
	fmt.Printf("Deleted:         %s\n", formatNumber(t.Deleted))
	fmt.Printf("Media uploads:   %s\n\n", formatNumber(t.MediaUploaded))

	if len(summary.Daily) > 0 {
		fmt.Printf("📅 DAILY BREAKDOWN\n")
		fmt.Print(rule)
		fmt.Printf("Date        | Created | Updated | Resolved | Deleted | Uploads\n")
		fmt.Printf("------------|---------|---------|----------|---------|--------\n")
		for _, d := range summary.Daily {
			fmt.Printf("%-10s  | %7s | %7s | %8s | %7s | %7s\n",
				d.Date.Format("2006-01-02"),
				formatNumber(d.Created),
				formatNumber(d.Updated),
				formatNumber(d.Resolved),
				formatNumber(d.Deleted),
				formatNumber(d.MediaUploaded),
			)
		}
		fmt.Printf("\n")
	}

	if len(summary.Categories) > 0 {
		fmt.Printf("🏷️  CATEGORIES\n")
		fmt.Print(rule)
		fmt.Printf("Category        | Created | Resolved | Rate    | Avg hours\n")
		fmt.Printf("----------------|---------|----------|---------|----------\n")
		for _, c := range summary.Categories {
			fmt.Printf("%-15s | %7s | %8s | %6.2f%% | %8.2f\n",
				c.Category,
				formatNumber(c.Created),
				formatNumber(c.Resolved),
				c.ResolutionRate,
				c.AvgResolutionHours,
			)
		}
		fmt.Printf("\n")
	}

	if len(summary.Devices) > 0 {
		fmt.Printf("📱 WHERE REPORTS COME FROM\n")
		fmt.Print(rule)
		for _, d := range summary.Devices {
			fmt.Printf("%-10s %-4s %s\n", orUnknown(d.DeviceType), orUnknown(d.Country), formatNumber(d.Created))
		}
		fmt.Printf("\n")
	}

	fmt.Printf("💡 INSIGHTS\n")
	fmt.Print(rule)
	switch {
	case t.Created == 0:
		fmt.Printf("⚠️  No reports filed in this period\n")
	case t.Resolved == 0:
		fmt.Printf("⚠️  Nothing resolved yet - %s reports waiting\n", formatNumber(t.Created))
	default:
		for _, c := range summary.Categories {
			if c.Created >= 5 && c.ResolutionRate < 25 {
				fmt.Printf("⚠️  %s: only %.1f%% of reports resolved\n", c.Category, c.ResolutionRate)
			}
		}
	}
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// formatNumber formats large integers with comma separators for improved readability.
// Example: 1234567 becomes "1,234,567"
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
