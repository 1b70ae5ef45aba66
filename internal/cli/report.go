package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmorton/custodian/internal/report"
)

var reportDate string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the maintenance report for a day",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "day to report on (YYYY-MM-DD, default today)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	day := time.Now()
	if reportDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", reportDate, time.Local)
		if err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		day = parsed
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	md, err := report.Daily(db, day)
	if err != nil {
		return err
	}
	fmt.Print(md)
	return nil
}
