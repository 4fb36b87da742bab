// The scheduler command runs the daily notification job once and exits.
//
// It is meant to be invoked by cron or a systemd timer, e.g. daily at 9 AM:
//
//	0 9 * * * cd /opt/library-notifier && ./scheduler
//
// Exit codes: 0 when every notification was sent, 1 when the run completed
// but some notifications failed, 2 when the run itself could not complete.
// Only one instance should run at a time; overlapping runs can double-send.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/ptc-library/notifier/internal/config"
	"github.com/ptc-library/notifier/internal/model"
	loanrepo "github.com/ptc-library/notifier/internal/repository/loan"
	settingsrepo "github.com/ptc-library/notifier/internal/repository/settings"
	templaterepo "github.com/ptc-library/notifier/internal/repository/template"
	"github.com/ptc-library/notifier/internal/scheduler"
	notifysvc "github.com/ptc-library/notifier/internal/service/notify"
	"github.com/ptc-library/notifier/pkg/evolution"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()

	fmt.Println("=== Library Scheduled Notifications ===")
	fmt.Printf("Started at: %s\n\n", time.Now().Format(time.DateTime))

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 2
	}
	defer func() {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Printf("failed to close master DB: %v", err)
		}
	}()

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 2
	}

	// The template cache is best effort: a dead Redis degrades to direct
	// repository reads instead of blocking the run.
	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Warn().Err(err).Msg("redis unreachable, template cache disabled")
	}

	gateway := evolution.NewClient(
		cfg.Evolution.BaseURL,
		cfg.Evolution.APIKey,
		cfg.Evolution.Instance,
		cfg.Evolution.SendTimeout,
		cfg.Evolution.ProbeTimeout,
	)

	service := notifysvc.NewService(
		loanrepo.NewRepository(db),
		settingsrepo.NewRepository(db),
		templaterepo.NewRepository(db),
		gateway,
		rdb,
	)

	report, err := scheduler.New(service, cfg.Retry).RunDaily(ctx)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 2
	}

	printReport(report)

	if report.TotalFailed > 0 {
		fmt.Println("\nWARNING: Some notifications failed to send")
		return 1
	}

	fmt.Println("\nAll notifications sent successfully")
	return 0
}

func printReport(report model.DailyReport) {
	fmt.Println("Due Reminders:")
	printBatch(report.DueReminders)

	fmt.Println("Overdue Alerts:")
	printBatch(report.OverdueAlerts)

	fmt.Printf("Total notifications sent: %d\n", report.TotalSent)
	fmt.Printf("Total notifications failed: %d\n\n", report.TotalFailed)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to marshal report")
		return
	}

	fmt.Println("Detailed Results (JSON):")
	fmt.Println(string(out))
}

func printBatch(b model.BatchResult) {
	fmt.Printf("  Total: %d\n", b.Total)
	fmt.Printf("  Sent: %d\n", b.Success)
	fmt.Printf("  Failed: %d\n\n", b.Failed)
}
