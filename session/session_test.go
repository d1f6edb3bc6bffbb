package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/jobforge/common/stats"
	"github.com/jobforge/jobforge/execer/execers"
	"github.com/jobforge/jobforge/expand"
	"github.com/jobforge/jobforge/format"
	"github.com/jobforge/jobforge/template"
	"github.com/jobforge/jobforge/tests/testhelpers"
)

func validated(t *testing.T, def *template.JobTemplate) *template.Template {
	t.Helper()
	tmpl, err := template.Validate(def)
	require.NoError(t, err)
	return tmpl
}

func simPlan(t *testing.T, def *template.JobTemplate) Plan {
	t.Helper()
	tmpl := validated(t, def)
	h, ok := tmpl.StepHandle(def.Steps[0].Name)
	require.True(t, ok)
	runs, err := expand.Expand(tmpl.Step(h))
	require.NoError(t, err)
	return Plan{
		Template: tmpl,
		StepName: def.Steps[0].Name,
		TaskRuns: runs,
		JobScope: format.NewScope("job"),
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type.String()
	}
	return out
}

func findEvents(events []Event, typ EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRunSingleTask(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	require.NoError(t, result.Err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, ENDED_SUCCESS, result.State)
	assert.Equal(t, 1, result.TasksRun)
	assert.Equal(t, 0, result.TasksFailed)
	assert.True(t, sess.State().IsDone())

	assert.Equal(t, []string{
		"TaskStarted",
		"ActionStarted",
		"ActionCompleted",
		"SessionEnded",
	}, eventTypes(result.Events))

	completed := findEvents(result.Events, ActionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, SUCCESS, completed[0].Status)
	assert.Equal(t, "render/0", completed[0].TaskID)
	for _, e := range result.Events {
		assert.Equal(t, result.SessionID, e.SessionID)
	}
}

func TestRunExpandedTasksInOrder(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	def.Steps[0].ParameterSpace = testhelpers.GenIntRangeSpace("Frame", "1-3")

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, result.TasksRun)

	started := findEvents(result.Events, TaskStarted)
	require.Len(t, started, 3)
	assert.Equal(t, "render/0", started[0].TaskID)
	assert.Equal(t, "Frame=1", started[0].TaskParameters)
	assert.Equal(t, "render/1", started[1].TaskID)
	assert.Equal(t, "Frame=2", started[1].TaskParameters)
	assert.Equal(t, "render/2", started[2].TaskID)
	assert.Equal(t, "Frame=3", started[2].TaskParameters)
}

func TestRunFailureSkipsRemainingRunActionsButNotCleanup(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 1", "complete 0")
	def.Steps[0].Script.Actions.OnCleanup = &template.Action{Command: "stdout cleanup-ran", Args: []string{"complete 0"}}

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	assert.False(t, result.Succeeded())
	assert.Equal(t, ENDED_FAILED, result.State)
	assert.Equal(t, 1, result.TasksRun)
	assert.Equal(t, 1, result.TasksFailed)

	var labels []string
	for _, e := range findEvents(result.Events, ActionStarted) {
		labels = append(labels, e.Action)
	}
	// The second run action never starts; cleanup is best effort and still runs.
	assert.Equal(t, []string{"onRun[0]", "onCleanup"}, labels)

	completed := findEvents(result.Events, ActionCompleted)
	require.Len(t, completed, 2)
	assert.Equal(t, FAILED, completed[0].Status)
	assert.Equal(t, 1, completed[0].ExitCode)
	assert.Equal(t, SUCCESS, completed[1].Status)

	outputs := findEvents(result.Events, ActionOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, "cleanup-ran", outputs[0].Output)
}

func TestRunTaskFailureIsFatalToThatTaskOnly(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 1")
	def.Steps[0].ParameterSpace = testhelpers.GenIntRangeSpace("Frame", "1-3")

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	// A task failure fails the session but the remaining assigned tasks
	// still run; retry and rescheduling belong to the consumer.
	result := sess.Run()
	assert.False(t, result.Succeeded())
	assert.Equal(t, 3, result.TasksRun)
	assert.Equal(t, 3, result.TasksFailed)
	assert.Len(t, findEvents(result.Events, TaskStarted), 3)
}

func TestInitializeFilesDirectory(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	def.Steps[0].Script.EmbeddedFiles = []template.EmbeddedFile{
		{Name: "cfg", Type: "TEXT", Filename: "render.cfg", Data: "quality=high\n"},
	}

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, sess.initialize())
	defer sess.teardown()

	// Embedded files live in a dedicated subdirectory of the workdir, out of
	// the way of process output.
	p, err := format.Resolve("{{Task.File.cfg}}", sess.scope)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sess.workdir.Dir, "files", "render.cfg"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "quality=high\n", string(data))
}

func TestRunUpdatesStats(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "pause", "complete 0")
	def.Steps[0].ParameterSpace = testhelpers.GenIntRangeSpace("Frame", "1-3")

	stat := stats.DefaultStatsReceiver()
	ex := execers.NewSimExecer()
	started := make(chan Event, 16)
	sess, err := New(simPlan(t, def),
		WithExecer(ex),
		WithWorkdirRoot(t.TempDir()),
		WithStats(stat),
		WithListener(func(e Event) {
			if e.Type == ActionStarted {
				started <- e
			}
		}),
	)
	require.NoError(t, err)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- sess.Run() }()

	waitStarted := func() {
		t.Helper()
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("action never started")
		}
	}

	// While the first task's action is paused, all three assigned tasks are
	// still pending; one fewer each time a later task starts.
	waitStarted()
	assert.Equal(t, int64(3), stat.Gauge(stats.TasksRemaining).Value())
	ex.Resume()
	waitStarted()
	assert.Equal(t, int64(2), stat.Gauge(stats.TasksRemaining).Value())
	ex.Resume()
	waitStarted()
	ex.Resume()

	var result Result
	select {
	case result = <-resultCh:
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.True(t, result.Succeeded())
	assert.Equal(t, int64(0), stat.Gauge(stats.TasksRemaining).Value())
	assert.Equal(t, int64(1), stat.Counter(stats.SessionsStarted).Count())
	assert.Equal(t, int64(1), stat.Counter(stats.SessionsSucceeded).Count())
	assert.Equal(t, int64(3), stat.Counter(stats.TasksRun).Count())
	assert.Equal(t, int64(0), stat.Counter(stats.TasksFailed).Count())
}

func TestRunEnvironmentsEnterAndExitInStackOrder(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	def.Environments = []template.Environment{{Name: "job-env"}}
	def.Steps[0].StepEnvironments = []template.Environment{{Name: "step-env"}}

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	assert.True(t, result.Succeeded())

	entered := findEvents(result.Events, EnvironmentEntered)
	require.Len(t, entered, 2)
	assert.Equal(t, "job-env", entered[0].Environment)
	assert.Equal(t, "step-env", entered[1].Environment)

	// Exit unwinds in reverse.
	exited := findEvents(result.Events, EnvironmentExited)
	require.Len(t, exited, 2)
	assert.Equal(t, "step-env", exited[0].Environment)
	assert.Equal(t, "job-env", exited[1].Environment)
}

func TestRunEnvironmentEnterFailureSkipsTasks(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	def.Environments = []template.Environment{
		{
			Name: "broken",
			Script: &template.EnvironmentScript{
				Actions: template.EnvironmentActions{
					OnEnter: &template.Action{Command: "complete 1"},
					OnExit:  &template.Action{Command: "stdout exited", Args: []string{"complete 0"}},
				},
			},
		},
	}

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	assert.False(t, result.Succeeded())
	assert.Equal(t, 0, result.TasksRun)
	assert.Empty(t, findEvents(result.Events, TaskStarted))

	// The environment was pushed before its enter action failed, so its exit
	// action still runs during unwind.
	outputs := findEvents(result.Events, ActionOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, "exited", outputs[0].Output)
	assert.Len(t, findEvents(result.Events, EnvironmentExited), 1)
}

func TestRunCancel(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "pause", "complete 0")
	def.Environments = []template.Environment{{Name: "env"}}

	started := make(chan Event, 16)
	sess, err := New(simPlan(t, def),
		WithExecer(execers.NewSimExecer()),
		WithWorkdirRoot(t.TempDir()),
		WithListener(func(e Event) {
			if e.Type == ActionStarted {
				started <- e
			}
		}),
	)
	require.NoError(t, err)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- sess.Run() }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first action never started")
	}
	sess.Cancel()

	var result Result
	select {
	case result = <-resultCh:
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish after cancel")
	}

	assert.Equal(t, ENDED_FAILED, result.State)
	completed := findEvents(result.Events, ActionCompleted)
	require.NotEmpty(t, completed)
	assert.Equal(t, CANCELED, completed[0].Status)

	// Cancellation never skips the exit phase.
	assert.Len(t, findEvents(result.Events, EnvironmentExited), 1)
	last := result.Events[len(result.Events)-1]
	assert.Equal(t, SessionEnded, last.Type)
	assert.Equal(t, ENDED_FAILED, last.FinalState)
}

func TestRunActionTimeout(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "pause")
	def.Steps[0].Script.Actions.OnRun[0].Timeout = 1

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	start := time.Now()
	result := sess.Run()
	assert.False(t, result.Succeeded())
	assert.Less(t, time.Since(start), 30*time.Second)

	completed := findEvents(result.Events, ActionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, TIMEOUT, completed[0].Status)
	assert.Equal(t, 1, result.TasksFailed)
}

func TestRunUnresolvedReferenceFailsAction(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	// Visible in step scope at validation time, but the job scope carries no
	// parameters, so resolution fails at run time.
	def.ParameterDefinitions = []template.ParameterDefinition{
		{Name: "Scene", Type: template.StringType},
	}
	def.Steps[0].Script.Actions.OnRun[0].Args = []string{"{{Param.Scene}}"}

	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	assert.False(t, result.Succeeded())
	completed := findEvents(result.Events, ActionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, FAILED, completed[0].Status)
	assert.Contains(t, completed[0].Message, "unresolved reference")
}

func TestRunSetupFailure(t *testing.T) {
	// Point the workdir root at a regular file so directory creation fails.
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

	def := testhelpers.GenSimTemplate("render", "complete 0")
	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(root))
	require.NoError(t, err)

	result := sess.Run()
	assert.Equal(t, ENDED_FAILED, result.State)
	require.Error(t, result.Err)
	var se *SessionSetupError
	require.ErrorAs(t, result.Err, &se)
	assert.Equal(t, 0, result.TasksRun)
	assert.Empty(t, findEvents(result.Events, TaskStarted))
}

func TestRunTeardownRemovesWorkdir(t *testing.T) {
	root := t.TempDir()
	def := testhelpers.GenSimTemplate("render", "complete 0")
	sess, err := New(simPlan(t, def), WithExecer(execers.NewSimExecer()), WithWorkdirRoot(root))
	require.NoError(t, err)

	result := sess.Run()
	assert.True(t, result.Succeeded())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "session working directory should be removed")
}

func TestRunRealProcessesEndToEnd(t *testing.T) {
	// Full path through the OS execer: embedded files, environment variables
	// resolved from job parameters, and scope references in action args.
	def := &template.JobTemplate{
		SpecificationVersion: template.SpecVersion,
		Name:                 "greet-{{Param.Name}}",
		ParameterDefinitions: []template.ParameterDefinition{
			{Name: "Name", Type: template.StringType},
		},
		Environments: []template.Environment{
			{Name: "greeting", Variables: map[string]string{"GREETING": "hi {{Param.Name}}"}},
		},
		Steps: []template.Step{
			{
				Name: "greet",
				Script: template.StepScript{
					Actions: template.StepActions{
						OnRun: []template.Action{
							{Command: "{{Task.File.greeter}}"},
							{Command: "/bin/sh", Args: []string{"-c", "echo $GREETING"}},
						},
					},
					EmbeddedFiles: []template.EmbeddedFile{
						{
							Name:     "greeter",
							Type:     "TEXT",
							Filename: "greeter.sh",
							Runnable: true,
							Data:     "#!/bin/sh\necho from-script\n",
						},
					},
				},
			},
		},
	}

	tmpl := validated(t, def)
	jobScope, err := JobScope(tmpl, map[string]string{"Name": "world"}, nil, "POSIX")
	require.NoError(t, err)
	name, err := JobName(tmpl, jobScope)
	require.NoError(t, err)
	assert.Equal(t, "greet-world", name)

	h, _ := tmpl.StepHandle("greet")
	runs, err := expand.Expand(tmpl.Step(h))
	require.NoError(t, err)

	sess, err := New(Plan{Template: tmpl, StepName: "greet", TaskRuns: runs, JobScope: jobScope},
		WithWorkdirRoot(t.TempDir()))
	require.NoError(t, err)

	result := sess.Run()
	require.NoError(t, result.Err)
	assert.True(t, result.Succeeded())

	var output strings.Builder
	for _, e := range findEvents(result.Events, ActionOutput) {
		output.WriteString(e.Output)
	}
	assert.Contains(t, output.String(), "from-script")
	assert.Contains(t, output.String(), "hi world")
}

func TestSessionIDsAreUnique(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	a, err := New(simPlan(t, def))
	require.NoError(t, err)
	b, err := New(simPlan(t, def))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEmpty(t, a.ID())
}

func TestNewRejectsUnknownStep(t *testing.T) {
	def := testhelpers.GenSimTemplate("render", "complete 0")
	plan := simPlan(t, def)
	plan.StepName = "ghost"
	_, err := New(plan)
	require.Error(t, err)
}
