package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the BACKUP_CRON schedule until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		sched, err := cron.ParseStandard(s.cfg.Cron)
		if err != nil {
			return fmt.Errorf("invalid BACKUP_CRON %q: %w", s.cfg.Cron, err)
		}

		var running sync.Mutex
		c := cron.New()
		c.Schedule(sched, cron.FuncJob(func() {
			if !running.TryLock() {
				s.log.Warn("previous backup still running, skipping this tick")
				return
			}
			defer running.Unlock()
			// failures are already logged and notified
			_, _ = s.manager.Backup(ctx)
			s.log.Info("next backup scheduled", "at", sched.Next(time.Now()).Format(time.RFC3339))
		}))
		c.Start()
		s.log.Info("scheduler started", "cron", s.cfg.Cron, "next", sched.Next(time.Now()).Format(time.RFC3339))

		<-ctx.Done()
		c.Stop()
		running.Lock()
		s.log.Info("scheduler stopped")
		return nil
	},
}
