// Command courier copies files and directory trees through the queued
// transfer engine. It runs in one of four modes: copy (the default), watch
// folder, drive listing, or history listing.
//
// Usage:
//
//	courier [flags] SOURCE... DEST     copy sources under DEST
//	courier -watch SOURCE DEST         mirror new files from SOURCE to DEST
//	courier -drives                    list mounted volumes
//	courier -history N                 show the N most recent transfers
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/filecourier/courier/checksum"
	"github.com/filecourier/courier/config"
	"github.com/filecourier/courier/drives"
	"github.com/filecourier/courier/event"
	"github.com/filecourier/courier/history"
	"github.com/filecourier/courier/transfer"
	"github.com/filecourier/courier/watch"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "config file path")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	verify := flag.Bool("verify", false, "verify checksums after each file copy")
	algo := flag.String("algo", "", "checksum algorithm (sha256, blake2b-256)")
	chunk := flag.Int("chunk", 0, "copy chunk size in bytes")
	workers := flag.Int("workers", 0, "worker pool size")
	overwrite := flag.String("overwrite", "", "conflict policy (skip, overwrite, rename)")
	watchMode := flag.Bool("watch", false, "watch SOURCE and mirror new files to DEST")
	drivesMode := flag.Bool("drives", false, "list mounted volumes and exit")
	historyN := flag.Int("history", 0, "show the N most recent transfers and exit")
	settle := flag.Duration("settle", 0, "watch mode settling delay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Flags that were explicitly set override the persisted config.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "verify":
			cfg.Transfer.VerifyChecksum = *verify
		case "algo":
			cfg.Transfer.ChecksumAlgorithm = *algo
		case "chunk":
			cfg.Transfer.ChunkSize = *chunk
		case "workers":
			cfg.Transfer.Workers = *workers
		case "overwrite":
			cfg.Transfer.OverwritePolicy = *overwrite
		case "settle":
			cfg.Watch.SettlingDelay = *settle
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	setupLogging(cfg.Logging.Level)

	switch {
	case *drivesMode:
		runDrives()
	case *historyN > 0:
		runHistory(cfg, *historyN)
	case *watchMode:
		runWatch(cfg, flag.Args())
	default:
		runCopy(cfg, *configPath, flag.Args())
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// newQueue builds the engine from the effective configuration. Construction
// failures are fatal; they mean the configuration is unusable.
func newQueue(cfg *config.Config, bus *event.Bus) *transfer.Queue {
	algorithm, err := checksum.ParseAlgorithm(cfg.Transfer.ChecksumAlgorithm)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid checksum algorithm")
	}
	policy, err := transfer.PolicyFromName(cfg.Transfer.OverwritePolicy)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid overwrite policy")
	}

	return transfer.NewQueue(bus, transfer.Options{
		Workers:        cfg.Transfer.Workers,
		ChunkSize:      cfg.Transfer.ChunkSize,
		VerifyChecksum: cfg.Transfer.VerifyChecksum,
		Algorithm:      algorithm,
		Policy:         policy,
	})
}

// attachHistory journals terminal transfers when history is enabled. A
// journal that cannot be opened degrades to logging, never blocks copying.
func attachHistory(cfg *config.Config, bus *event.Bus) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logrus.WithError(err).Warn("Failed to open transfer history, continuing without it")
		return nil
	}
	store.Attach(bus)
	return store
}

func subscribeRendering(bus *event.Bus) {
	bus.Subscribe(event.Start, func(e event.Event) {
		fmt.Printf("=> %s\n", e.Source)
	})
	bus.Subscribe(event.Progress, func(e event.Event) {
		if e.TotalBytes > 0 {
			fmt.Printf("\r   %5.1f%%  %d/%d bytes", float64(e.BytesTransferred)/float64(e.TotalBytes)*100,
				e.BytesTransferred, e.TotalBytes)
		}
	})
	bus.Subscribe(event.Complete, func(e event.Event) {
		if e.Err != "" {
			fmt.Printf("\r   %s: %s\n", e.Status, e.Err)
			return
		}
		fmt.Printf("\r   %s (%d bytes)\n", e.Status, e.BytesTransferred)
	})
}

func runCopy(cfg *config.Config, configPath string, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courier [flags] SOURCE... DEST")
		os.Exit(2)
	}
	sources, dest := args[:len(args)-1], args[len(args)-1]

	bus := event.NewBus()
	store := attachHistory(cfg, bus)
	if store != nil {
		defer store.Close()
	}
	subscribeRendering(bus)
	q := newQueue(cfg, bus)

	for _, src := range sources {
		isDir := false
		if info, err := os.Stat(src); err == nil {
			isDir = info.IsDir()
		}
		q.Enqueue(src, destinationFor(src, dest, len(sources)), isDir)
		cfg.AddRecentSource(src)
	}
	cfg.AddRecentDestination(dest)
	if err := config.Save(configPath, cfg); err != nil {
		logrus.WithError(err).Warn("Failed to persist recent paths")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		q.Stop()
	}()

	q.Start()
	for !q.Wait(time.Second) {
	}

	p := q.OverallProgress()
	fmt.Printf("%d transferred, %d failed\n", p.Completed, p.Failed)
	if p.Failed > 0 {
		os.Exit(1)
	}
}

// destinationFor mirrors a source under dest when dest is an existing
// directory or when several sources share it; otherwise dest names the
// target itself.
func destinationFor(src, dest string, sourceCount int) string {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, filepath.Base(src))
	}
	if sourceCount > 1 {
		return filepath.Join(dest, filepath.Base(src))
	}
	return dest
}

func runWatch(cfg *config.Config, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: courier -watch SOURCE DEST")
		os.Exit(2)
	}
	srcRoot, dstRoot := args[0], args[1]

	bus := event.NewBus()
	store := attachHistory(cfg, bus)
	if store != nil {
		defer store.Close()
	}
	subscribeRendering(bus)
	q := newQueue(cfg, bus)

	w, err := watch.New(srcRoot, dstRoot, q, cfg.Watch.SettlingDelay)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create watcher")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Watcher failed")
	}
	q.Stop()
}

func runDrives() {
	volumes, err := drives.List()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to enumerate drives")
	}

	for _, v := range volumes {
		kind := "system"
		if !v.System {
			kind = "external"
		}
		fmt.Printf("%-30s %-8s %8s free of %8s (%s)\n",
			v.Mountpoint, kind, formatBytes(v.Free), formatBytes(v.Total), v.Fstype)
	}

	if best, err := drives.BestDestination(); err == nil {
		fmt.Printf("\nbest destination: %s (%s free)\n", best.Mountpoint, formatBytes(best.Free))
	}
}

func runHistory(cfg *config.Config, n int) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open transfer history")
	}
	defer store.Close()

	records, err := store.Recent(n)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read transfer history")
	}

	for _, r := range records {
		line := fmt.Sprintf("%s  %-11s %s -> %s (%s)",
			r.RecordedAt.Format(time.RFC3339), r.Status, r.Source, r.Destination,
			formatBytes(r.BytesTransferred))
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
