// Package telemetry samples process and host resource usage for operators.
package telemetry

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"quiz-room-service/internal/domain"
)

// Sampler reads usage for the current process. Fields that cannot be read on
// the host platform are left at zero.
type Sampler struct {
	proc *process.Process
	now  func() time.Time
}

func NewSampler() *Sampler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Sampler{proc: proc, now: time.Now}
}

// Sample never blocks on a CPU measurement window; CPU percentages are
// computed against the previous call.
func (s *Sampler) Sample(ctx context.Context) (domain.Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	u := domain.Usage{
		HeapAlloc:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  s.now(),
	}

	if s.proc != nil {
		if info, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			u.ProcessRSS = info.RSS
		}
		if pct, err := s.proc.PercentWithContext(ctx, 0); err == nil {
			u.ProcessCPU = pct
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		u.SystemMemoryUsed = vm.Used
		u.SystemMemoryPct = vm.UsedPercent
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		u.SystemCPU = pcts[0]
	}
	return u, ctx.Err()
}
