package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemSampler periodically appends host memory usage and the RSS of every
// simulation process to a log file in the model directory. It runs on its
// own goroutine so polling and sampling proceed concurrently.
type MemSampler struct {
	path     string
	grepTerm string
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartSampler begins sampling into <modelDir>/<logFile> every interval.
// grepTerm selects the processes to report, normally the executable name.
func StartSampler(modelDir, logFile, grepTerm string, interval time.Duration) *MemSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MemSampler{
		path:     filepath.Join(modelDir, logFile),
		grepTerm: grepTerm,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.loop(ctx)
	return s
}

// Stop terminates the sampler and waits for the final write to finish.
// Safe to call more than once.
func (s *MemSampler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *MemSampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *MemSampler) sample() {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", time.Now().Format("2006-01-02 15:04:05"))

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(&b, "total=%d used=%d free=%d used_percent=%.1f\n",
			vm.Total, vm.Used, vm.Free, vm.UsedPercent)
	}
	b.WriteString("-----------\n")

	procs, err := process.Processes()
	if err == nil {
		for _, p := range procs {
			cmdline, err := p.Cmdline()
			if err != nil || !strings.Contains(cmdline, s.grepTerm) {
				continue
			}
			fmt.Fprintf(&b, "PID: %d\n", p.Pid)
			if info, err := p.MemoryInfo(); err == nil {
				pct, _ := p.MemoryPercent()
				fmt.Fprintf(&b, "pid=%d mem%%=%.1f rss=%d vsz=%d cmd=%s\n",
					p.Pid, pct, info.RSS, info.VMS, cmdline)
			}
		}
	}
	b.WriteString("======================\n")

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(b.String())
}
