package os

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/execer"
)

type process struct {
	cmd   *exec.Cmd
	wg    *sync.WaitGroup
	grace time.Duration

	// closed once Wait has reaped the process
	doneCh chan struct{}

	mu      sync.Mutex
	aborted bool
}

func newProcess(cmd *exec.Cmd, wg *sync.WaitGroup, grace time.Duration) *process {
	return &process{cmd: cmd, wg: wg, grace: grace, doneCh: make(chan struct{})}
}

// Wait blocks until output copying finishes and the process is reaped.
func (p *process) Wait() execer.ProcessStatus {
	p.wg.Wait()
	err := p.cmd.Wait()
	close(p.doneCh)

	p.mu.Lock()
	aborted := p.aborted
	p.mu.Unlock()

	if aborted {
		return execer.ProcessStatus{State: execer.FAILED, Error: "process aborted"}
	}
	if err == nil {
		return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: code}
		}
		// Killed by an untrapped signal.
		return execer.ProcessStatus{State: execer.FAILED, Error: exitErr.Error()}
	}
	return execer.ProcessStatus{State: execer.FAILED, Error: err.Error()}
}

// Abort terminates the whole process group: SIGTERM first, then SIGKILL if
// the group hasn't exited after the grace period. A zero grace period kills
// immediately.
func (p *process) Abort() execer.ProcessStatus {
	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()

	pid := p.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		log.WithFields(log.Fields{"pid": pid, "error": err}).Error("Error finding pgid, signaling pid only")
		pgid = pid
	}

	if p.grace > 0 {
		log.WithFields(log.Fields{"pgid": pgid}).Info("Sending SIGTERM to process group")
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			log.WithFields(log.Fields{"pgid": pgid, "error": err}).Error("Error sending SIGTERM")
		}
		select {
		case <-p.doneCh:
			return execer.ProcessStatus{State: execer.FAILED, Error: "process aborted"}
		case <-time.After(p.grace):
			log.WithFields(log.Fields{"pgid": pgid}).Info("Process group hasn't exited, sending SIGKILL")
		}
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		log.WithFields(log.Fields{"pgid": pgid, "error": err}).Error("Error sending SIGKILL")
	}
	return execer.ProcessStatus{State: execer.FAILED, Error: fmt.Sprintf("process aborted (pgid %d)", pgid)}
}
