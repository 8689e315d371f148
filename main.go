package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"git.unix.lgbt/diamondburned/fifowrap/fifowrap/config"
	"git.unix.lgbt/diamondburned/fifowrap/fifowrap/journal"
	"git.unix.lgbt/diamondburned/fifowrap/fifowrap/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Set via ldflags.
var version = "dev"

var (
	configFile  string
	journalFile string
	journalWait time.Duration
	metricsAddr string
	stopCommand string
	saveOffCmd  string
	saveOnCmd   string
	logFormat   string
	watchFIFO   bool
	statusCount int
)

func main() {
	log.SetFlags(0)
	log.SetPrefix(filepath.Base(os.Args[0]) + ": ")

	os.Exit(execute())
}

func execute() int {
	code := 0

	root := &cobra.Command{
		Use:   "fifowrap [flags] <fifo> <dir> <command> [args...]",
		Short: "Run a server and feed it console commands from a named pipe",
		Long: "fifowrap starts <command> in <dir> and copies every line written into\n" +
			"the named pipe <fifo> to its standard input.\n\n" +
			"  SIGINT, SIGTERM  stop the server, escalating to SIGTERM and SIGKILL\n" +
			"  SIGHUP           reopen the named pipe\n" +
			"  SIGUSR1          send the save-off command\n" +
			"  SIGUSR2          send the save-on command",
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := run(cmd.Flags(), args)
			code = c
			return err
		},
	}

	// Everything after <command> belongs to the child.
	root.Flags().SetInterspersed(false)

	pf := root.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	pf.StringVarP(&journalFile, "journal", "j", "", "path to a JSON journal file")

	f := root.Flags()
	f.DurationVar(&journalWait, "journal-wait", 0, "wait this long for another fifowrap to release the journal")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&stopCommand, "stop-command", fifowrap.DefaultCommands.Stop, "command sent to stop the server")
	f.StringVar(&saveOffCmd, "save-off-command", fifowrap.DefaultCommands.SaveOff, "command sent on SIGUSR1")
	f.StringVar(&saveOnCmd, "save-on-command", fifowrap.DefaultCommands.SaveOn, "command sent on SIGUSR2")
	f.StringVar(&logFormat, "log-format", string(config.LogText), "log format, text or json")
	f.BoolVar(&watchFIFO, "watch", false, "reopen the named pipe when it is recreated")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the most recent journal events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.Flags())
		},
	}
	status.Flags().IntVarP(&statusCount, "count", "n", 10, "number of events to print")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(status, versionCmd)

	if err := root.Execute(); err != nil {
		log.Println(err)
		if code == 0 {
			code = 1
		}
	}

	return code
}

// loadConfig reads the config file, if any, and lets changed flags override
// it.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()

	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}

	set := func(name string, fn func()) {
		if flags.Changed(name) {
			fn()
		}
	}

	set("journal", func() { cfg.Journal = journalFile })
	set("journal-wait", func() { cfg.JournalWait = journalWait })
	set("metrics-addr", func() { cfg.MetricsAddr = metricsAddr })
	set("stop-command", func() { cfg.Commands.Stop = stopCommand })
	set("save-off-command", func() { cfg.Commands.SaveOff = saveOffCmd })
	set("save-on-command", func() { cfg.Commands.SaveOn = saveOnCmd })
	set("log-format", func() { cfg.LogFormat = config.LogFormat(logFormat) })
	set("watch", func() { cfg.Watch = watchFIFO })

	return cfg, cfg.Validate()
}

func run(flags *pflag.FlagSet, args []string) (int, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return 1, err
	}

	journalers := make([]fifowrap.Journaler, 0, 3)

	switch cfg.LogFormat {
	case config.LogJSON:
		journalers = append(journalers, journal.NewWriter(os.Stdout))
	default:
		journalers = append(journalers, journal.NewHumanWriter("fifowrap", os.Stdout))
	}

	if cfg.Journal != "" {
		j, err := openJournal(cfg)
		if err != nil {
			if errors.Is(err, journal.ErrLockedElsewhere) {
				return 1, errors.New("fifowrap is already running with this journal")
			}
			return 1, errors.Wrap(err, "failed to open journal")
		}
		defer j.Close()

		journalers = append(journalers, j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		m := metrics.New(reg)
		journalers = append(journalers, m)

		if _, err := metrics.Serve(ctx, cfg.MetricsAddr, reg, journal.MultiWriter(journalers...)); err != nil {
			return 1, err
		}
	}

	j := journal.MultiWriter(journalers...)

	sup, err := fifowrap.New(fifowrap.Options{
		FIFO:     args[0],
		Dir:      args[1],
		Argv:     args[2:],
		Commands: cfg.SupervisorCommands(),
		Watch:    cfg.Watch,
	}, j)
	if err != nil {
		return 1, err
	}

	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs, fifowrap.HandledSignals()...)
	defer signal.Stop(sigs)

	// The context given to Run is never canceled; signals drive the shutdown.
	return sup.Run(context.Background(), sigs), nil
}

func openJournal(cfg config.Config) (*journal.FileLockJournaler, error) {
	if cfg.JournalWait <= 0 {
		return journal.NewFileLockJournaler(cfg.Journal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.JournalWait)
	defer cancel()

	return journal.NewFileLockJournalerWait(ctx, cfg.Journal)
}

func printStatus(flags *pflag.FlagSet) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	if cfg.Journal == "" {
		return errors.New("missing -j path to journal file")
	}

	entries, err := journal.ReadLastFromFile(cfg.Journal, statusCount)
	if err != nil {
		return errors.Wrap(err, "failed to read journal")
	}

	for _, e := range entries {
		fmt.Printf("%s  %-18s  %s\n", e.Time.Local().Format(time.RFC3339), e.Event.Type(), e.Event)
	}

	return nil
}
