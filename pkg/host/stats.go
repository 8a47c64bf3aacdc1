package host

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/marmos91/pgweb/internal/logger"
)

// ProcessStats is a point-in-time view of one worker process.
type ProcessStats struct {
	PID         int32
	NumFDs      int32
	Connections int
	Listening   int
	RSSBytes    uint64
	CPUPercent  float64
}

// CollectProcessStats samples a process through gopsutil. Fields that
// cannot be read on the current platform are left zero.
func CollectProcessStats(pid int32) (ProcessStats, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessStats{}, err
	}

	st := ProcessStats{PID: pid}

	if n, err := p.NumFDs(); err == nil {
		st.NumFDs = n
	}
	if conns, err := p.Connections(); err == nil {
		for _, c := range conns {
			if c.Status == "LISTEN" {
				st.Listening++
				continue
			}
			st.Connections++
		}
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}

	return st, nil
}

func (s *Supervisor) logStats() {
	for _, sl := range s.running() {
		s.mu.Lock()
		cmd := sl.cmd
		s.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			continue
		}

		st, err := CollectProcessStats(int32(cmd.Process.Pid))
		if err != nil {
			logger.Debug("Could not sample worker process",
				logger.KeyWorker, sl.worker.Name, logger.Err(err))
			continue
		}

		logger.Info("Background worker stats",
			logger.KeyWorker, sl.worker.Name,
			logger.KeyPID, st.PID,
			"fds", st.NumFDs,
			"listening", st.Listening,
			"connections", st.Connections,
			"rss_bytes", st.RSSBytes,
			"cpu_percent", st.CPUPercent)
	}
}
