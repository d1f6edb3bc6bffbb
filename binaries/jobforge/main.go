// jobforge is the command harness around the engine: it loads a template
// document, validates it, expands steps into task runs, and drives sessions,
// rendering the engine's event stream as logs.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/common/errors"
	clog "github.com/jobforge/jobforge/common/log"
	"github.com/jobforge/jobforge/common/stats"
	"github.com/jobforge/jobforge/config"
	"github.com/jobforge/jobforge/expand"
	"github.com/jobforge/jobforge/format"
	"github.com/jobforge/jobforge/pathmap"
	"github.com/jobforge/jobforge/plan"
	"github.com/jobforge/jobforge/session"
	"github.com/jobforge/jobforge/template"
)

func main() {
	cfg := config.Load()
	clog.Setup(cfg.LogLevel)

	cli := newCLI(cfg)
	if err := cli.rootCmd.Execute(); err != nil {
		code := errors.GenericFailureExitCode
		var ece *errors.ExitCodeError
		if e, ok := err.(*errors.ExitCodeError); ok {
			ece = e
		}
		if ece != nil {
			code = ece.GetExitCode()
		}
		log.Error(err)
		os.Exit(int(code))
	}
}

type cli struct {
	rootCmd *cobra.Command
	cfg     *config.Config
}

func newCLI(cfg *config.Config) *cli {
	c := &cli{cfg: cfg}
	c.rootCmd = &cobra.Command{
		Use:           "jobforge",
		Short:         "jobforge runs declarative job templates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.addCmd(&validateCmd{})
	c.addCmd(&expandCmd{})
	c.addCmd(&runCmd{cfg: cfg})
	return c
}

type subCmd interface {
	registerFlags() *cobra.Command
	run(cmd *cobra.Command, args []string) error
}

func (c *cli) addCmd(sc subCmd) {
	cmd := sc.registerFlags()
	cmd.RunE = sc.run
	c.rootCmd.AddCommand(cmd)
}

func loadTemplate(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(err, errors.ValidationFailedExitCode)
	}
	t, err := template.Parse(data)
	if err != nil {
		return nil, errors.NewError(err, errors.ValidationFailedExitCode)
	}
	tmpl, err := template.Validate(t)
	if err != nil {
		return nil, errors.NewError(err, errors.ValidationFailedExitCode)
	}
	return tmpl, nil
}

func parseParams(kvs []string) (map[string]string, error) {
	values := map[string]string{}
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --param %q, expected name=value", kv)
		}
		values[parts[0]] = parts[1]
	}
	return values, nil
}

type validateCmd struct {
	templatePath string
}

func (c *validateCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "validate",
		Short: "validate a job template document",
	}
	r.Flags().StringVar(&c.templatePath, "template", "", "path to the template document")
	r.MarkFlagRequired("template")
	return r
}

func (c *validateCmd) run(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(c.templatePath)
	if err != nil {
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}
	t, err := template.Parse(data)
	if err != nil {
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}
	if _, err := template.Validate(t); err != nil {
		if ve, ok := err.(*template.ValidationError); ok {
			for _, d := range ve.Diagnostics {
				fmt.Println(d.String())
			}
		}
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}
	fmt.Println("template is valid")
	return nil
}

type expandCmd struct {
	templatePath string
	stepName     string
}

func (c *expandCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "expand",
		Short: "expand a step's parameter space into its ordered task runs",
	}
	r.Flags().StringVar(&c.templatePath, "template", "", "path to the template document")
	r.Flags().StringVar(&c.stepName, "step", "", "step to expand")
	r.MarkFlagRequired("template")
	r.MarkFlagRequired("step")
	return r
}

func (c *expandCmd) run(cmd *cobra.Command, args []string) error {
	tmpl, err := loadTemplate(c.templatePath)
	if err != nil {
		return err
	}
	h, ok := tmpl.StepHandle(c.stepName)
	if !ok {
		return errors.NewError(fmt.Errorf("step %q is not declared by the template", c.stepName), errors.ExpansionFailedExitCode)
	}
	runs, err := expand.Expand(tmpl.Step(h))
	if err != nil {
		return errors.NewError(err, errors.ExpansionFailedExitCode)
	}
	for i, run := range runs {
		fmt.Printf("%d: %s\n", i, run.String())
	}
	return nil
}

type runCmd struct {
	cfg *config.Config

	templatePath    string
	params          []string
	pathMappingPath string
	hostFormat      string
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "run every step of a job template in dependency order",
	}
	r.Flags().StringVar(&c.templatePath, "template", "", "path to the template document")
	r.Flags().StringArrayVar(&c.params, "param", nil, "job parameter binding, name=value (repeatable)")
	r.Flags().StringVar(&c.pathMappingPath, "path-mapping", "", "path to a path mapping configuration document")
	r.Flags().StringVar(&c.hostFormat, "host-format", string(pathmap.Posix), "execution host path format (POSIX or WINDOWS)")
	r.MarkFlagRequired("template")
	return r
}

func (c *runCmd) run(cmd *cobra.Command, args []string) error {
	tmpl, err := loadTemplate(c.templatePath)
	if err != nil {
		return err
	}
	values, err := parseParams(c.params)
	if err != nil {
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}

	var rules *pathmap.RuleSet
	if c.pathMappingPath != "" {
		data, err := os.ReadFile(c.pathMappingPath)
		if err != nil {
			return errors.NewError(err, errors.PathMappingFailedExitCode)
		}
		rules, err = pathmap.ParseConfig(data)
		if err != nil {
			return errors.NewError(err, errors.PathMappingFailedExitCode)
		}
	}
	host := pathmap.PathFormat(strings.ToUpper(c.hostFormat))
	if host != pathmap.Posix && host != pathmap.Windows {
		return errors.NewError(fmt.Errorf("unknown host format %q", c.hostFormat), errors.PathMappingFailedExitCode)
	}

	jobScope, err := session.JobScope(tmpl, values, rules, host)
	if err != nil {
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}
	jobName, err := session.JobName(tmpl, jobScope)
	if err != nil {
		return errors.NewError(err, errors.ValidationFailedExitCode)
	}
	log.WithFields(log.Fields{"job": jobName}).Info("Running job")

	stat := stats.DefaultStatsReceiver().Scope("jobforge")
	planner := plan.New(tmpl)
	for !planner.Done() {
		ready := planner.Ready()
		if len(ready) == 0 {
			break
		}
		for _, stepName := range ready {
			if err := c.runStep(tmpl, stepName, jobScope, stat, planner); err != nil {
				return err
			}
		}
	}

	log.Debugf("Metrics: %s", stat.Render())
	if planner.Failed() {
		return errors.NewError(fmt.Errorf("job %q: one or more tasks failed", jobName), errors.TaskFailedExitCode)
	}
	return nil
}

func (c *runCmd) runStep(tmpl *template.Template, stepName string, jobScope *format.Scope, stat stats.StatsReceiver, planner *plan.Planner) error {
	h, _ := tmpl.StepHandle(stepName)
	runs, err := expand.Expand(tmpl.Step(h))
	if err != nil {
		return errors.NewError(err, errors.ExpansionFailedExitCode)
	}

	if err := planner.MarkStarted(stepName); err != nil {
		return errors.NewError(err, errors.GenericFailureExitCode)
	}
	sess, err := session.New(session.Plan{
		Template: tmpl,
		StepName: stepName,
		TaskRuns: runs,
		JobScope: jobScope,
	},
		session.WithStats(stat),
		session.WithWorkdirRoot(c.cfg.WorkdirRoot),
		session.WithKillGracePeriod(c.cfg.KillGracePeriod),
		session.WithListener(logEvent),
	)
	if err != nil {
		return errors.NewError(err, errors.GenericFailureExitCode)
	}
	result := sess.Run()
	if result.Err != nil {
		// Setup failures abort the session but the job result is still just
		// a failed step; the planner decides what becomes unrunnable.
		log.WithFields(log.Fields{"step": stepName, "error": result.Err}).Error("Session setup failed")
	}
	if err := planner.MarkCompleted(stepName, result.Succeeded()); err != nil {
		return errors.NewError(err, errors.GenericFailureExitCode)
	}
	return nil
}

// logEvent renders one session event as a log line.
func logEvent(e session.Event) {
	fields := log.Fields{"session": e.SessionID}
	switch e.Type {
	case session.EnvironmentEntered, session.EnvironmentExited:
		log.WithFields(fields).WithField("environment", e.Environment).Info(e.Type)
	case session.TaskStarted:
		log.WithFields(fields).WithFields(log.Fields{"task": e.TaskID, "parameters": e.TaskParameters}).Info(e.Type)
	case session.ActionStarted:
		log.WithFields(fields).WithFields(log.Fields{"task": e.TaskID, "action": e.Action}).Info(e.Type)
	case session.ActionOutput:
		log.WithFields(fields).WithField("action", e.Action).Debug(strings.TrimRight(e.Output, "\n"))
	case session.ActionCompleted:
		log.WithFields(fields).WithFields(log.Fields{
			"task":     e.TaskID,
			"action":   e.Action,
			"status":   e.Status,
			"exitCode": e.ExitCode,
		}).Info(e.Type)
	case session.SessionEnded:
		log.WithFields(fields).WithFields(log.Fields{
			"state":       e.FinalState,
			"tasksRun":    e.TasksRun,
			"tasksFailed": e.TasksFailed,
			"duration":    e.Duration,
		}).Info(e.Type)
	}
}
