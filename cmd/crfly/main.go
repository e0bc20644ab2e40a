package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lbujnak/cr-fly/internal/config"
	"github.com/lbujnak/cr-fly/internal/util"
	"github.com/lbujnak/cr-fly/pkg/alert"
	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/drone"
	"github.com/lbujnak/cr-fly/pkg/filestore"
	"github.com/lbujnak/cr-fly/pkg/node"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
	"github.com/lbujnak/cr-fly/pkg/transfer"
)

var version = "dev"

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "crfly",
		Short: "Coordinate a drone and a remote reconstruction node",
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the TOML config file")

	var (
		project  string
		detail   string
		simplify bool
		format   string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sync drone media, upload it and run a full reconstruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(configFile)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log.Level)
			return run(cmd.Context(), cfg, project, detail, simplify, format)
		},
	}
	runCmd.Flags().StringVar(&project, "project", "scan", "Project name on the node")
	runCmd.Flags().StringVar(&detail, "detail", "normal", "Model detail level")
	runCmd.Flags().BoolVar(&simplify, "simplify", false, "Simplify the model before export")
	runCmd.Flags().StringVar(&format, "format", "obj", "Export format")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("crfly", version)
		},
	}

	cmd.AddCommand(runCmd)
	cmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, cmd); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// run wires the engine and drives one full pass: pull media off the drone,
// push it to the node, start the processing chain and poll until the
// context is cancelled.
func run(ctx context.Context, cfg *config.Config, project, detail string, simplify bool, format string) error {
	exists, isDir, err := util.CheckDirectory(cfg.Drone.MediaRoot)
	if err != nil {
		return err
	}
	if !exists || !isDir {
		return fmt.Errorf("drone media root %s is not a directory", cfg.Drone.MediaRoot)
	}

	store := filestore.NewDiskStore()
	for _, dir := range []string{cfg.Storage.MediaDir, cfg.Storage.DownloadDir, cfg.Storage.ExportDir} {
		if err := store.EnsureDir(dir); err != nil {
			return err
		}
	}

	sink := alert.NewConsoleSink(os.Stderr)
	policy := command.Policy{
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryTimeout: time.Duration(cfg.Queue.RetryTimeoutSeconds) * time.Second,
	}

	conn := rawhttp.NewConnection()
	if err := conn.Open(cfg.Node.Host, cfg.Node.Port,
		time.Duration(cfg.Node.TimeoutSeconds)*time.Second, cfg.Node.KeepAlive); err != nil {
		return fmt.Errorf("connect to node: %w", err)
	}
	defer conn.Terminate(false)

	nodeQueue := command.NewQueueController("node", policy, sink)
	nodeQueue.Start()
	defer nodeQueue.Stop()
	nodeSvc := node.NewService(conn, nodeQueue, store, sink, node.Dirs{
		MediaDir:    cfg.Storage.MediaDir,
		DownloadDir: cfg.Storage.DownloadDir,
		ExportDir:   cfg.Storage.ExportDir,
	})
	nodeSvc.SetPollInterval(time.Duration(cfg.Node.PollIntervalSeconds) * time.Second)

	droneQueue := command.NewQueueController("drone", policy, sink)
	droneQueue.Start()
	defer droneQueue.Stop()
	droneSvc := drone.NewService(
		drone.NewDirectoryMediaManager(cfg.Drone.MediaRoot),
		droneQueue, cfg.Storage.MediaDir)

	nodeQueue.Push(nodeSvc.CheckNodeCommand())
	nodeQueue.Push(nodeSvc.CreateProjectCommand(project))

	// The upload kickoff is queued only after DownloadMedia queued its
	// fetch commands, so it runs once the album is complete.
	uploadAlbum := command.Func(func(done func(command.Result)) {
		local, err := store.List(cfg.Storage.MediaDir)
		if err != nil {
			done(command.Fail(false, "Album unavailable", err.Error()))
			return
		}
		if err := nodeSvc.UploadMedia(local); err != nil {
			done(command.Fail(false, "Upload failed", err.Error()))
			return
		}
		nodeQueue.Push(nodeSvc.SaveProjectCommand())
		nodeSvc.StartReconstruction(node.ReconstructionChain(detail, simplify, format))
		done(command.OK())
	})

	droneQueue.Push(droneSvc.RefreshMediaCommand(ctx))
	droneQueue.Push(command.Func(func(done func(command.Result)) {
		var names []string
		for _, file := range droneSvc.Files() {
			names = append(names, file.Name)
		}
		if err := droneSvc.DownloadMedia(ctx, names); err != nil {
			done(command.Fail(false, "Media sync failed", err.Error()))
			return
		}
		droneQueue.Push(uploadAlbum)
		done(command.OK())
	}))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return nodeSvc.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				reportTransfers(nodeSvc, droneSvc)
			}
		}
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// reportTransfers prints one line per transfer session that still has
// items outstanding.
func reportTransfers(nodeSvc *node.Service, droneSvc *drone.Service) {
	if status, ok := droneSvc.TransferStatus(); ok && status.TransferredItems < status.TotalItems {
		fmt.Fprintln(os.Stderr, progressLine("drone sync", status))
	}
	if status, ok := nodeSvc.UploadStatus(); ok && status.TransferredItems < status.TotalItems {
		fmt.Fprintln(os.Stderr, progressLine("upload", status))
	}
	if status, ok := nodeSvc.DownloadStatus(); ok && status.TransferredItems < status.TotalItems {
		fmt.Fprintln(os.Stderr, progressLine("download", status))
	}
}

func progressLine(label string, status transfer.Status) string {
	return fmt.Sprintf("%s %s / %s (%.0f%%) %s",
		util.PadRight(label, 12),
		util.FormatSize(status.TransferredBytes),
		util.FormatSize(status.TotalBytes),
		status.ProgressPercentage(),
		util.FormatSpeed(status.SpeedBytesPerSec))
}
