package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
	"github.com/stellarlinkco/payqr/internal/cron"
	"github.com/stellarlinkco/payqr/internal/gateway"
)

// cronAddOptions are the flags of "cron add". Exactly one schedule is set.
type cronAddOptions struct {
	Name    string
	Message string
	Expr    string
	Every   time.Duration
	At      string
	To      string
	Deliver bool
}

var cronAddFlags cronAddOptions

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled agent jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronList(cmd.OutOrStdout())
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a prompt, optionally on behalf of a conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronAdd(cmd.OutOrStdout(), cronAddFlags)
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronRemove(cmd.OutOrStdout(), args[0])
	},
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronEnable(cmd.OutOrStdout(), args[0], true)
	},
}

var cronDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronEnable(cmd.OutOrStdout(), args[0], false)
	},
}

func init() {
	f := cronAddCmd.Flags()
	f.StringVar(&cronAddFlags.Name, "name", "", "Job name")
	f.StringVarP(&cronAddFlags.Message, "message", "m", "", "Prompt the agent runs")
	f.StringVar(&cronAddFlags.Expr, "cron", "", "Cron expression with seconds, e.g. \"0 0 9 * * *\"")
	f.DurationVar(&cronAddFlags.Every, "every", 0, "Run at a fixed interval, e.g. 1h")
	f.StringVar(&cronAddFlags.At, "at", "", "Run once at an RFC3339 time")
	f.StringVar(&cronAddFlags.To, "to", "", "Conversation to act for, as channel:chatID")
	f.BoolVar(&cronAddFlags.Deliver, "deliver", false, "Send the agent's reply to --to")

	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd, cronEnableCmd, cronDisableCmd)
	rootCmd.AddCommand(cronCmd)
}

// openCronStore loads the job store the gateway runs from. A running
// gateway picks up changes on its next start.
func openCronStore() (*cron.Service, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	svc := cron.NewService(gateway.CronStorePath(cfg))
	if err := svc.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return svc, nil
}

func (o cronAddOptions) schedule() (cron.Schedule, error) {
	set := 0
	for _, ok := range []bool{o.Expr != "", o.Every != 0, o.At != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("set exactly one of --cron, --every or --at")
	}

	switch {
	case o.Expr != "":
		return cron.Schedule{Kind: cron.KindCron, Expr: o.Expr}, nil
	case o.Every != 0:
		if o.Every < time.Second {
			return cron.Schedule{}, fmt.Errorf("--every must be at least 1s")
		}
		return cron.Schedule{Kind: cron.KindEvery, EveryMs: o.Every.Milliseconds()}, nil
	default:
		at, err := time.Parse(time.RFC3339, o.At)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("--at: %w", err)
		}
		return cron.Schedule{Kind: cron.KindAt, AtMs: at.UnixMilli()}, nil
	}
}

func runCronAdd(out io.Writer, opts cronAddOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("--message is required")
	}
	sched, err := opts.schedule()
	if err != nil {
		return err
	}

	payload := cron.Payload{Message: opts.Message}
	if opts.To != "" {
		origin, err := bus.ParseOrigin(opts.To)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		payload.Channel, payload.To = origin.Channel, origin.ChatID
		payload.Deliver = opts.Deliver
	} else if opts.Deliver {
		return fmt.Errorf("--deliver needs --to")
	}

	name := opts.Name
	if name == "" {
		name = truncateName(opts.Message)
	}

	svc, err := openCronStore()
	if err != nil {
		return err
	}
	job, err := svc.AddJob(name, sched, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added job %s (%s)\n", job.ID, job.Name)
	return nil
}

func runCronList(out io.Writer) error {
	svc, err := openCronStore()
	if err != nil {
		return err
	}
	jobs := svc.ListJobs()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs.")
		return nil
	}
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		target := "-"
		if o := j.Payload.Origin(); !o.IsZero() {
			target = o.String()
		}
		fmt.Fprintf(out, "%s  %-8s  %-20s  %-14s  %s\n", j.ID, state, describeSchedule(j.Schedule), target, j.Name)
	}
	return nil
}

func runCronRemove(out io.Writer, id string) error {
	svc, err := openCronStore()
	if err != nil {
		return err
	}
	if !svc.RemoveJob(id) {
		return fmt.Errorf("job %s not found", id)
	}
	fmt.Fprintf(out, "Removed job %s\n", id)
	return nil
}

func runCronEnable(out io.Writer, id string, enabled bool) error {
	svc, err := openCronStore()
	if err != nil {
		return err
	}
	job, err := svc.EnableJob(id, enabled)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s enabled=%v\n", job.ID, job.Enabled)
	return nil
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindCron:
		return "cron " + s.Expr
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}

func truncateName(s string) string {
	r := []rune(s)
	if len(r) <= 30 {
		return s
	}
	return string(r[:30]) + "..."
}
