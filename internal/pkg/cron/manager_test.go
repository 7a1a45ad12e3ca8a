package cron

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunsRegisteredJobs(t *testing.T) {
	var runs atomic.Int32
	job := cron.FuncJob(func() { runs.Add(1) })

	mgr := NewCronManager(
		Entry{Name: "tick", Spec: "@every 1s", Job: job},
		Entry{Name: "off", Spec: "", Job: job},
	)
	require.NoError(t, InitCron(mgr))
	defer mgr.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestManagerRejectsBadSpec(t *testing.T) {
	mgr := NewCronManager(Entry{Name: "bad", Spec: "not a spec", Job: cron.FuncJob(func() {})})
	assert.Error(t, mgr.RegisterJobs())
}

func TestManagerRunOnStart(t *testing.T) {
	var runs atomic.Int32
	mgr := NewCronManager(Entry{
		Name:       "sweep",
		Spec:       "0 0 0 1 1 *",
		Job:        cron.FuncJob(func() { runs.Add(1) }),
		RunOnStart: true,
	})
	require.NoError(t, InitCron(mgr))
	defer mgr.Stop()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}
