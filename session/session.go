// Package session drives the runtime lifecycle of a set of task runs:
// embedded-file materialization, environment enter/exit, sequential action
// execution with timeout and cancellation, and teardown. Within one session
// execution is strictly single threaded; parallelism comes from running
// independent sessions, which share no state.
package session

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/common/stats"
	"github.com/jobforge/jobforge/execer"
	osexecer "github.com/jobforge/jobforge/execer/os"
	"github.com/jobforge/jobforge/expand"
	"github.com/jobforge/jobforge/format"
	"github.com/jobforge/jobforge/os/temp"
	"github.com/jobforge/jobforge/template"
)

const defaultKillGracePeriod = 5 * time.Second

// Plan is the work assigned to one session: a step of a validated template,
// the ordered task runs to execute, and the resolved job scope.
type Plan struct {
	Template *template.Template
	StepName string
	TaskRuns []expand.TaskRun
	JobScope *format.Scope
}

type Session struct {
	id   string
	plan Plan
	step *template.Step

	exec        execer.Execer
	stat        stats.StatsReceiver
	grace       time.Duration
	workdirRoot string
	listener    func(Event)

	abortCh   chan struct{}
	abortOnce sync.Once

	mu     sync.Mutex
	events []Event

	// Single-threaded run state; only touched by Run.
	state   State
	workdir *temp.TempDir
	scope   *format.Scope
	envs    []template.Environment
	envVars []map[string]string // overlay stack, one frame per entered environment
	entered []int
}

type Option func(*Session)

// WithExecer overrides the process execution layer (tests use a simulation
// execer).
func WithExecer(e execer.Execer) Option { return func(s *Session) { s.exec = e } }

func WithStats(st stats.StatsReceiver) Option { return func(s *Session) { s.stat = st } }

// WithWorkdirRoot places the session working directory under dir instead of
// the system temp dir.
func WithWorkdirRoot(dir string) Option { return func(s *Session) { s.workdirRoot = dir } }

// WithKillGracePeriod sets the SIGTERM-to-SIGKILL grace for the terminate
// cancelation method.
func WithKillGracePeriod(d time.Duration) Option { return func(s *Session) { s.grace = d } }

// WithListener streams each event to fn as it is emitted, in order, in
// addition to collecting it in the Result.
func WithListener(fn func(Event)) Option { return func(s *Session) { s.listener = fn } }

// New builds a session for the given plan. The step named by the plan must
// exist in the plan's template.
func New(plan Plan, opts ...Option) (*Session, error) {
	h, ok := plan.Template.StepHandle(plan.StepName)
	if !ok {
		return nil, fmt.Errorf("step %q is not declared by the template", plan.StepName)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:      id.String(),
		plan:    plan,
		step:    plan.Template.Step(h),
		exec:    osexecer.NewExecer(),
		stat:    stats.NilStatsReceiver(),
		grace:   defaultKillGracePeriod,
		abortCh: make(chan struct{}),
		state:   INITIALIZING,
	}
	// Job-level environments first, then the step's own: declared stacking
	// order, entered first to last, exited last to first.
	s.envs = append(s.envs, plan.Template.Definition().Environments...)
	s.envs = append(s.envs, s.step.StepEnvironments...)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

// Cancel requests external cancellation. The current action's process tree
// is terminated and the session still proceeds through its exit phase;
// cancellation never skips cleanup.
func (s *Session) Cancel() {
	s.abortOnce.Do(func() { close(s.abortCh) })
}

func (s *Session) canceled() bool {
	select {
	case <-s.abortCh:
		return true
	default:
		return false
	}
}

// Run drives the session to completion and returns its aggregate result.
// Run never panics on action failure; execution errors become status events.
func (s *Session) Run() Result {
	start := time.Now()
	s.stat.Counter(stats.SessionsStarted).Inc(1)
	log.WithFields(log.Fields{
		"session": s.id,
		"step":    s.step.Name,
		"tasks":   len(s.plan.TaskRuns),
	}).Info("Session starting")

	var failed bool
	var tasksRun, tasksFailed int

	err := s.initialize()
	if err != nil {
		// Setup failure aborts before any environment is entered.
		s.teardown()
		return s.end(ENDED_FAILED, 0, 0, start, err)
	}

	if !s.enterEnvironments() {
		failed = true
	}

	if !failed {
		s.state = READY
		remaining := s.stat.Gauge(stats.TasksRemaining)
		remaining.Update(int64(len(s.plan.TaskRuns)))
		for i, run := range s.plan.TaskRuns {
			if s.canceled() {
				failed = true
				break
			}
			s.state = RUNNING_TASK
			taskID := fmt.Sprintf("%s/%d", s.step.Name, i)
			ok := s.runTask(taskID, run)
			tasksRun++
			remaining.Update(int64(len(s.plan.TaskRuns) - tasksRun))
			if !ok {
				tasksFailed++
				failed = true
			}
		}
	}

	if !s.exitEnvironments() {
		failed = true
	}
	s.teardown()

	final := ENDED_SUCCESS
	if failed || s.canceled() {
		final = ENDED_FAILED
	}
	return s.end(final, tasksRun, tasksFailed, start, nil)
}

// initialize materializes every embedded file referenced by the session's
// assigned work into a fresh working directory and builds the session scope.
func (s *Session) initialize() error {
	s.state = INITIALIZING
	root := s.workdirRoot
	if root == "" {
		root = os.TempDir()
	}
	wd, err := temp.NewTempDir(root, "session-")
	if err != nil {
		return &SessionSetupError{Message: "creating working directory", Err: err}
	}
	s.workdir = wd

	// Embedded files go in their own subdirectory so they never collide with
	// whatever the step's processes write into the working directory.
	filesDir, err := wd.FixedDir("files")
	if err != nil {
		return &SessionSetupError{Message: "creating embedded files directory", Err: err}
	}

	scope := s.plan.JobScope.Extend("session")
	scope.Bind("Session.WorkingDirectory", wd.Dir)

	stepFiles, err := materializeFiles(filesDir.Dir, s.step.Script.EmbeddedFiles)
	if err != nil {
		return err
	}
	for name, p := range stepFiles {
		scope.Bind("Task.File."+name, p)
	}
	for _, env := range s.envs {
		if env.Script == nil {
			continue
		}
		envFiles, err := materializeFiles(filesDir.Dir, env.Script.EmbeddedFiles)
		if err != nil {
			return err
		}
		for name, p := range envFiles {
			scope.Bind("Env.File."+name, p)
		}
	}
	s.scope = scope
	return nil
}

// enterEnvironments runs each stacked environment's onEnter action in
// declared order and pushes its variable overlay frame. A failed enter stops
// the stack there; environments already entered still get their exit.
func (s *Session) enterEnvironments() bool {
	s.state = ENTERING_ENVIRONMENTS
	for i, env := range s.envs {
		if s.canceled() {
			return false
		}
		frame := map[string]string{}
		for name, val := range env.Variables {
			resolved, err := format.Resolve(val, s.scope)
			if err != nil {
				log.WithFields(log.Fields{
					"session":     s.id,
					"environment": env.Name,
					"error":       err,
				}).Error("Error resolving environment variable")
				return false
			}
			frame[name] = resolved
		}
		s.entered = append(s.entered, i)
		s.envVars = append(s.envVars, frame)

		if env.Script != nil && env.Script.Actions.OnEnter != nil {
			o := s.runAction("environment."+env.Name+".onEnter", "", env.Script.Actions.OnEnter, s.scope)
			if !o.ok() {
				return false
			}
		}
		s.emit(Event{Type: EnvironmentEntered, Environment: env.Name})
	}
	return true
}

// runTask executes the step's run actions sequentially for one task run. A
// failed or canceled action aborts the remaining run actions but not the
// best-effort cleanup action.
func (s *Session) runTask(taskID string, run expand.TaskRun) bool {
	s.stat.Counter(stats.TasksRun).Inc(1)
	s.emit(Event{Type: TaskStarted, TaskID: taskID, TaskParameters: run.String()})
	scope := s.taskScope(run)

	ok := true
	for i := range s.step.Script.Actions.OnRun {
		a := &s.step.Script.Actions.OnRun[i]
		o := s.runAction(fmt.Sprintf("onRun[%d]", i), taskID, a, scope)
		if !o.ok() {
			ok = false
			break
		}
	}
	if cleanup := s.step.Script.Actions.OnCleanup; cleanup != nil {
		o := s.runAction("onCleanup", taskID, cleanup, scope)
		if !o.ok() {
			ok = false
		}
	}
	if !ok {
		s.stat.Counter(stats.TasksFailed).Inc(1)
	}
	return ok
}

// exitEnvironments unwinds the entered environment stack in reverse order,
// running every onExit action even when earlier execution failed.
func (s *Session) exitEnvironments() bool {
	s.state = EXITING_ENVIRONMENTS
	ok := true
	for i := len(s.entered) - 1; i >= 0; i-- {
		env := s.envs[s.entered[i]]
		if env.Script != nil && env.Script.Actions.OnExit != nil {
			if o := s.runAction("environment."+env.Name+".onExit", "", env.Script.Actions.OnExit, s.scope); !o.ok() {
				ok = false
			}
		}
		s.emit(Event{Type: EnvironmentExited, Environment: env.Name})
	}
	return ok
}

// teardown deletes the working directory and everything materialized in it.
// Removal is retried briefly: processes we just killed can hold files open
// for a moment.
func (s *Session) teardown() {
	if s.workdir == nil {
		return
	}
	dir := s.workdir.Dir
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	err := backoff.Retry(func() error { return os.RemoveAll(dir) }, b)
	if err != nil {
		log.WithFields(log.Fields{
			"session": s.id,
			"dir":     dir,
			"error":   err,
		}).Error("Error removing session working directory")
	}
}

func (s *Session) end(final State, tasksRun, tasksFailed int, start time.Time, err error) Result {
	s.state = final
	d := time.Since(start)
	if final == ENDED_SUCCESS {
		s.stat.Counter(stats.SessionsSucceeded).Inc(1)
	} else {
		s.stat.Counter(stats.SessionsFailed).Inc(1)
	}
	s.emit(Event{
		Type:        SessionEnded,
		FinalState:  final,
		TasksRun:    tasksRun,
		TasksFailed: tasksFailed,
		Duration:    d,
	})
	log.WithFields(log.Fields{
		"session":     s.id,
		"state":       final,
		"tasksRun":    tasksRun,
		"tasksFailed": tasksFailed,
		"duration":    d,
		"error":       err,
	}).Info("Session ended")

	s.mu.Lock()
	events := append([]Event{}, s.events...)
	s.mu.Unlock()
	return Result{
		SessionID:   s.id,
		State:       final,
		TasksRun:    tasksRun,
		TasksFailed: tasksFailed,
		Duration:    d,
		Err:         err,
		Events:      events,
	}
}

// flattenEnvVars collapses the overlay stack into one map, later frames
// overriding earlier ones on name conflict.
func (s *Session) flattenEnvVars() map[string]string {
	flat := map[string]string{}
	for _, frame := range s.envVars {
		for k, v := range frame {
			flat[k] = v
		}
	}
	return flat
}

func (s *Session) emit(e Event) {
	e.SessionID = s.id
	e.Time = time.Now()
	s.mu.Lock()
	s.events = append(s.events, e)
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(e)
	}
}
