package cron

import log "log/slog"

// InitCron 注册并启动，任何一个表达式非法都不启动
func InitCron(mgr *Manager) error {
	if err := mgr.RegisterJobs(); err != nil {
		return err
	}
	log.Info("Cron Jobs starting...", "enabled", len(mgr.wrapped))
	mgr.Start()
	return nil
}
