package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pmorton/custodian/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import memory records from a JSON file",
	Long:  "Reads a JSON array of records ({content, topic, source_type, importance, confidence, tags}) and inserts them as active memories.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

type importRecord struct {
	Content    string   `json:"content"`
	Topic      string   `json:"topic"`
	SourceType string   `json:"source_type"`
	Timestamp  string   `json:"timestamp"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	var records []importRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	imported, skipped := 0, 0
	for _, r := range records {
		if r.Content == "" {
			skipped++
			continue
		}
		ts := time.Now()
		if r.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
				ts = parsed
			}
		}
		m := &model.Memory{
			ID:         model.NewID(),
			Content:    r.Content,
			Topic:      r.Topic,
			SourceType: r.SourceType,
			Timestamp:  ts,
			Importance: r.Importance,
			Confidence: r.Confidence,
			Tags:       r.Tags,
			Status:     model.StatusActive,
		}
		if err := db.InsertMemory(m); err != nil {
			log.Warn().Err(err).Msg("skipping record")
			skipped++
			continue
		}
		imported++
	}

	fmt.Printf("imported %d record(s), skipped %d\n", imported, skipped)
	return nil
}
