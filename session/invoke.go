package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/common/stats"
	"github.com/jobforge/jobforge/execer"
	"github.com/jobforge/jobforge/format"
	"github.com/jobforge/jobforge/template"
)

type actionOutcome struct {
	status   ActionStatus
	exitCode int
	message  string
}

func (o actionOutcome) ok() bool { return o.status == SUCCESS }

// runAction resolves one action against scope, spawns its process, and
// blocks until exit, timeout, or external cancel. Failures never propagate
// as errors; they come back as the action's terminal status, and the
// session decides what to skip.
func (s *Session) runAction(label, taskID string, a *template.Action, scope *format.Scope) actionOutcome {
	command, err := format.Resolve(a.Command, scope)
	if err != nil {
		return s.completeAction(label, taskID, actionOutcome{status: FAILED, message: err.Error()}, time.Now())
	}
	args, err := format.ResolveAll(a.Args, scope)
	if err != nil {
		return s.completeAction(label, taskID, actionOutcome{status: FAILED, message: err.Error()}, time.Now())
	}

	s.emit(Event{Type: ActionStarted, TaskID: taskID, Action: label})
	start := time.Now()

	grace := s.grace
	if a.CancelationMethod == template.CancelKill {
		grace = 0
	}

	out := &eventWriter{s: s, taskID: taskID, action: label}
	p, err := s.exec.Exec(execer.Command{
		Argv:            append([]string{command}, args...),
		Dir:             s.workdir.Dir,
		EnvVars:         s.flattenEnvVars(),
		Stdout:          out,
		Stderr:          out,
		KillGracePeriod: grace,
	})
	if err != nil {
		return s.completeAction(label, taskID, actionOutcome{status: FAILED, message: err.Error()}, start)
	}

	var timeoutCh <-chan time.Time
	if a.Timeout > 0 {
		timer := time.NewTimer(time.Duration(a.Timeout) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	processCh := make(chan execer.ProcessStatus, 1)
	go func() { processCh <- p.Wait() }()

	var st execer.ProcessStatus
	select {
	case <-s.abortCh:
		p.Abort()
		return s.completeAction(label, taskID, actionOutcome{status: CANCELED, message: "canceled by external request"}, start)
	case <-timeoutCh:
		log.WithFields(log.Fields{
			"session": s.id,
			"action":  label,
			"timeout": a.Timeout,
		}).Info("Action timed out, terminating process tree")
		p.Abort()
		return s.completeAction(label, taskID, actionOutcome{status: TIMEOUT, message: "timed out"}, start)
	case st = <-processCh:
	}

	switch {
	case st.State == execer.COMPLETE && st.ExitCode == 0:
		return s.completeAction(label, taskID, actionOutcome{status: SUCCESS}, start)
	case st.State == execer.COMPLETE:
		return s.completeAction(label, taskID, actionOutcome{status: FAILED, exitCode: st.ExitCode, message: "non-zero exit"}, start)
	default:
		return s.completeAction(label, taskID, actionOutcome{status: FAILED, message: st.Error}, start)
	}
}

func (s *Session) completeAction(label, taskID string, o actionOutcome, start time.Time) actionOutcome {
	s.stat.Counter(stats.ActionsRun).Inc(1)
	s.stat.Latency(stats.ActionLatency).UpdateSince(start)
	switch o.status {
	case FAILED:
		s.stat.Counter(stats.ActionsFailed).Inc(1)
	case TIMEOUT:
		s.stat.Counter(stats.ActionsTimedOut).Inc(1)
	case CANCELED:
		s.stat.Counter(stats.ActionsCanceled).Inc(1)
	}
	s.emit(Event{
		Type:     ActionCompleted,
		TaskID:   taskID,
		Action:   label,
		Status:   o.status,
		ExitCode: o.exitCode,
		Message:  o.message,
	})
	return o
}

// eventWriter turns process output chunks into ActionOutput events. It is
// written to from the execer's copy goroutines; emit serializes.
type eventWriter struct {
	s      *Session
	taskID string
	action string
	mu     sync.Mutex
}

func (w *eventWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.s.emit(Event{Type: ActionOutput, TaskID: w.taskID, Action: w.action, Output: string(p)})
	return len(p), nil
}
