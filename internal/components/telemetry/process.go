package telemetry

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	report_process_open_files = "process.open-files"
	report_process_rss_mb     = "process.rss-mb"
	report_process_cpu        = "process.cpu-percent"
	report_process_goroutines = "process.goroutines"
	report_process_sample     = "process.sample"
)

// WatchProcess samples resource usage of the current process every interval until
// ctx is done. A steadily climbing open-files count during a run usually means
// browser surfaces are not being closed.
func WatchProcess(ctx context.Context, tel API, interval time.Duration) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		tel.ReportWarning(report_process_sample, err)
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sampleProcess(ctx, tel, proc)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func sampleProcess(ctx context.Context, tel API, proc *process.Process) {
	fds, err := proc.NumFDsWithContext(ctx)
	if err == nil {
		tel.ReportCount(report_process_open_files, int64(fds))
	}

	mem, err := proc.MemoryInfoWithContext(ctx)
	if err == nil {
		tel.ReportCount(report_process_rss_mb, int64(mem.RSS/1_000_000))
	}

	cpu, err := proc.CPUPercentWithContext(ctx)
	if err == nil {
		tel.ReportCount(report_process_cpu, int64(cpu))
	}

	tel.ReportCount(report_process_goroutines, int64(runtime.NumGoroutine()))
}
