// Command adbsim runs the transactional KV-store simulator: it recovers
// any prior WAL/DB state, then drives a deterministic cycle loop that
// spawns, advances, commits, and rolls back transactions under the given
// probability parameters. Grounded on the teacher's cmd/mantisDB/main.go
// (flag parsing, exit-code discipline; its version banner is dropped) adapted to
// spec.md §6's positional CLI surface and a -config flag for the YAML
// layer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"adbsim/internal/config"
	"adbsim/internal/dbhandler"
	"adbsim/internal/lockmgr"
	"adbsim/internal/logging"
	"adbsim/internal/sim"
	"adbsim/internal/txmgr"
	"adbsim/internal/wal"
)

// Exit codes per spec.md §6: 0 normal completion, 2 CLI validation
// error, 1 unexpected runtime failure.
const (
	exitOK           = 0
	exitRuntimeError = 1
	exitUsageError   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("adbsim", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file overriding defaults")
	seed := fs.Int64("seed", 1, "workload RNG seed")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: adbsim [-config file] [-seed n] cycles trans_size start_prob write_prob rollback_prob timeout")
	}
	if err := fs.Parse(args); err != nil {
		return exitUsageError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adbsim: %v\n", err)
		return exitUsageError
	}

	if fs.NArg() > 0 {
		if err := applyPositional(cfg, fs.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "adbsim: %v\n", err)
			fs.Usage()
			return exitUsageError
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "adbsim: invalid configuration: %v\n", err)
		return exitUsageError
	}

	log, err := logging.New(logLevelFromString(cfg.LogLevel), cfg.LogFilePath, int64(cfg.LogMaxSizeMB)*1024*1024, cfg.LogMaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adbsim: failed to open log file: %v\n", err)
		return exitRuntimeError
	}

	if err := bootAndRun(cfg, log, *seed); err != nil {
		log.Errorf("run failed: %v", err)
		return exitRuntimeError
	}
	return exitOK
}

// applyPositional fills in the six CLI positionals spec.md §6 specifies,
// overriding whatever config.Load produced.
func applyPositional(cfg *config.SimConfig, args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("expected 6 positional arguments, got %d", len(args))
	}

	ints := make([]int, 0, 2)
	for _, i := range []int{0, 1} {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return fmt.Errorf("argument %d must be an integer: %w", i+1, err)
		}
		ints = append(ints, v)
	}
	cfg.Cycles, cfg.TransSize = ints[0], ints[1]

	floats := make([]float64, 0, 3)
	for _, i := range []int{2, 3, 4} {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return fmt.Errorf("argument %d must be a float: %w", i+1, err)
		}
		floats = append(floats, v)
	}
	cfg.StartProb, cfg.WriteProb, cfg.RollbackProb = floats[0], floats[1], floats[2]

	timeout, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("argument 6 (timeout) must be an integer: %w", err)
	}
	cfg.Timeout = timeout

	return nil
}

func logLevelFromString(s string) logging.Level {
	switch s {
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelDebug
	}
}

// bootAndRun wires the four core components, recovers prior state, and
// runs the simulation to completion (spec.md §9's startup order: recover
// before simulating).
func bootAndRun(cfg *config.SimConfig, log *logging.Logger, seed int64) error {
	db := dbhandler.New(cfg.DataFile, cfg.SlotCount, cfg.FlushThreshold, log)
	db.Load()

	archiver, err := wal.NewArchiver(cfg.LogFile, cfg.Archive.Algorithm, cfg.Archive.Enabled)
	if err != nil {
		return fmt.Errorf("build archiver: %w", err)
	}

	journal, err := wal.New(cfg.LogFile, cfg.FlushThreshold, archiver, log)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer journal.Close()

	if err := journal.Recover(db); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	locks := lockmgr.New(cfg.Timeout, log)
	txns := txmgr.New(db, locks, journal, log)

	driver := sim.New(cfg, db, locks, journal, txns, log, seed)
	stats := driver.Run()

	log.Debugf("run complete: cycles=%d started=%d committed=%d rolled_back=%d deadlock_aborts=%d locks_granted=%d locks_queued=%d locks_aborted=%d",
		stats.CyclesRun, stats.Started, stats.Committed, stats.RolledBack, stats.DeadlockAborts,
		stats.Locks.Granted, stats.Locks.Queued, stats.Locks.Aborted)

	return nil
}
