package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pmorton/custodian/internal/sched"
	"github.com/pmorton/custodian/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maintenance scheduler and admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	runner := buildRunner(cfg, db)
	prober := sched.SystemProber{}
	// A pass already in flight counts as foreground activity for the
	// micro window.
	eval := sched.NewEvaluator(cfg.Timing, runner.InFlight)

	scheduler := sched.NewScheduler(cfg.Scheduler, eval, prober)
	scheduler.Submit(&sched.Task{
		Type:              "memory_maintenance",
		Description:       "nightly memory reconstruction pass",
		Priority:          sched.PriorityMedium,
		EstimatedDuration: 10 * time.Minute,
		DailyOnce:         true,
		Run: func(ctx context.Context) error {
			_, err := runner.RunOnce(ctx, "scheduled")
			return err
		},
	})
	scheduler.Submit(&sched.Task{
		Type:              "vector_index_update",
		Description:       "embed new records into the vector index",
		Priority:          sched.PriorityLow,
		EstimatedDuration: 5 * time.Minute,
		DailyOnce:         true,
		Run: func(ctx context.Context) error {
			_, err := runner.RefreshVectors(ctx)
			return err
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop(30 * time.Second)

	srv := server.New(db, runner, scheduler, prober, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Str("db", db.Path).Msg("custodian serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}
