package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/flowline/internal/agentrt"
	"github.com/harrison/flowline/internal/controlbus"
	"github.com/harrison/flowline/internal/gitrepo"
	"github.com/harrison/flowline/internal/logger"
	"github.com/harrison/flowline/internal/planner"
	"github.com/harrison/flowline/internal/scheduler"
	"github.com/harrison/flowline/internal/workerpool"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <requirement>",
		Short: "Start a flowline session from a natural-language request",
		Long: `Start a flowline session: decompose <requirement> into a dependency
graph of tasks and execute it, dispatching as many ready tasks as
max_parallel allows.

The session keeps running after the initial requirement is satisfied.
Additional lines typed on stdin are queued as follow-up interventions;
"stop" cancels in-flight work without ending the session; "quit" or EOF
ends it. A second interrupt (Ctrl-C) forces an immediate exit.`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	addRepoFlags(cmd)
	cmd.Flags().Int("max-parallel", 0, "Override max_parallel from config (0 = use config)")
	cmd.Flags().String("log-level", "", "Override log_level from config")
	cmd.Flags().String("log-dir", "", "Override log_dir from config")
	cmd.Flags().String("agent-path", "", "Override agent_path from config")
	cmd.Flags().String("model", "", "Agent model name passed to the planner and workers")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	requirement := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("max-parallel") {
		cfg.MaxParallel, _ = cmd.Flags().GetInt("max-parallel")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir, _ = cmd.Flags().GetString("log-dir")
	}
	if cmd.Flags().Changed("agent-path") {
		cfg.AgentPath, _ = cmd.Flags().GetString("agent-path")
	}
	model, _ := cmd.Flags().GetString("model")

	log, closeLog, err := buildLogger(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()

	removePIDFile, err := writePIDFile(cfg.RepoPath)
	if err != nil {
		return err
	}
	defer removePIDFile()

	runtime := agentrt.NewCLIRuntime(cfg.AgentPath)
	gw := gitrepo.New(cfg, gitrepo.ExecRunner{}, log)
	bus := controlbus.New()
	pool := workerpool.New(cfg.MaxParallel, runtime, bus, log, gw.BranchExists)
	pl := planner.New(runtime, model, log)
	sched := scheduler.New(gw, pool, bus, pl, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		interrupts := 0
		for {
			select {
			case <-sigCh:
				interrupts++
				if interrupts == 1 {
					log.Warnf("interrupt received, stopping active work (press Ctrl-C again to exit)")
					bus.Stop(func() { pool.StopAll() })
				} else {
					log.Warnf("second interrupt received, exiting")
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go readControlInput(cmd, bus, pool, cancel, log)

	bus.Publish(controlbus.Event{
		Kind:         controlbus.KindIntervention,
		Intervention: &controlbus.Intervention{Requirement: requirement},
	})

	err = sched.Run(ctx)
	bus.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}

// readControlInput turns stdin lines into control bus events, translating a
// handful of reserved words into stop/quit/config_update and treating
// everything else as a new intervention. It is the only place flowline
// reads a terminal; the core never does.
func readControlInput(cmd *cobra.Command, bus *controlbus.Bus, pool *workerpool.Pool, cancel context.CancelFunc, log logger.Logger) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "stop":
			bus.Stop(func() { pool.StopAll() })
		case line == "quit" || line == "exit":
			cancel()
			return
		case strings.HasPrefix(line, "max_parallel "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "max_parallel ")))
			if err != nil {
				log.Infof("invalid max_parallel value: %v", err)
				continue
			}
			bus.Publish(controlbus.Event{Kind: controlbus.KindConfigUpdate, ConfigUpdate: &controlbus.ConfigUpdate{MaxParallel: n}})
		default:
			bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: line}})
		}
	}
	// stdin closed (EOF): treat like an explicit quit so a piped invocation
	// doesn't hang forever waiting for more input.
	cancel()
}
