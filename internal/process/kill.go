package process

import (
	"context"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// signalGroup signals a process group, falling back to the process itself
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

// descendants returns every process below pid, children first
func descendants(ctx context.Context, pid int) []*process.Process {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}

	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// killStragglers kills listed processes that are still running, such as
// descendants that moved to their own process group
func killStragglers(ctx context.Context, procs []*process.Process) int {
	killed := 0
	for _, p := range procs {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			continue
		}
		if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 && status[0] == process.Zombie {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed++
		}
	}
	return killed
}

// Alive reports whether a process with pid exists and is not a zombie
func Alive(pid int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return len(status) == 0 || status[0] != process.Zombie
}
