package cron

import (
	"fmt"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

// Entry 一个定时任务及其 cron 表达式（带秒）
type Entry struct {
	Name string
	Spec string
	Job  cron.Job
	// RunOnStart 启动后立即补跑一次
	RunOnStart bool
}

type Manager struct {
	engine  *cron.Cron
	chain   cron.Chain
	entries []Entry
	wrapped map[string]cron.Job
}

func NewCronManager(entries ...Entry) *Manager {
	return &Manager{
		engine:  cron.New(cron.WithSeconds()),
		chain:   cron.NewChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		entries: entries,
		wrapped: make(map[string]cron.Job),
	}
}

// RegisterJobs 注册定时任务，表达式为空的任务不启用。
// 补跑与定时触发共用同一个包装，不会并发执行。
func (s *Manager) RegisterJobs() error {
	for _, e := range s.entries {
		if e.Spec == "" {
			log.Info("cron job disabled", "job", e.Name)
			continue
		}
		job := s.chain.Then(e.Job)
		if _, err := s.engine.AddJob(e.Spec, job); err != nil {
			return fmt.Errorf("register cron job %s: %w", e.Name, err)
		}
		s.wrapped[e.Name] = job
		log.Info("cron job registered", "job", e.Name, "spec", e.Spec)
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
	for _, e := range s.entries {
		if job, ok := s.wrapped[e.Name]; ok && e.RunOnStart {
			go job.Run()
		}
	}
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
