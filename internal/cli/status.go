package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmorton/custodian/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts by lifecycle status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	counts, err := db.CountByStatus()
	if err != nil {
		return err
	}

	total := 0
	for _, status := range []model.Status{model.StatusActive, model.StatusArchived, model.StatusRetired} {
		fmt.Printf("%-10s %d\n", status, counts[status])
		total += counts[status]
	}
	fmt.Printf("%-10s %d\n", "total", total)
	return nil
}
