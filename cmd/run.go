package cmd

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nullvektor/warden/internal/controller"
	"github.com/nullvektor/warden/internal/engine"
	"github.com/nullvektor/warden/internal/hid"
	"github.com/nullvektor/warden/internal/observability"
	"github.com/nullvektor/warden/internal/sensor"
	"github.com/nullvektor/warden/internal/timing"
	"github.com/nullvektor/warden/internal/window"
)

var headless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the serial link and drive the behavior loop.",
	Long: `Run connects to the HID peripheral, starts the behavior worker, and
offers a small console (start / stop / status / exit) on stdin. With
--headless the worker runs until the process receives SIGINT or SIGTERM.`,
	RunE: runBot,
}

func init() {
	runCmd.Flags().BoolVar(&headless, "headless", false, "run without the interactive console")
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	cfg := loadedConf

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleeper := timing.RealSleeper{}
	timer := timing.NewEngine(cfg.Timing().Policy(), rng)

	link := hid.NewLink(cfg.Serial(), sleeper, logger)
	if err := link.Open(ctx); err != nil {
		return fmt.Errorf("opening serial link: %w", err)
	}

	channel := hid.NewChannel(link, cfg.Serial(), timer, sleeper, rng, logger)
	eng := engine.New(cfg, channel, sensor.NewStatic(), timer, sleeper, logger)
	ctrl := controller.New(eng, link, window.Noop{Logger: logger}, cfg.Loop(), sleeper, logger)

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	if headless {
		<-ctx.Done()
		logger.Info("Shutdown signal received.")
		return ctrl.Exit()
	}

	// The stdin reader stays outside the errgroup: Scan blocks until the
	// next line or EOF and cannot be interrupted by context cancellation.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Println(`Console ready. Commands: start, stop, status, exit.`)
		for {
			select {
			case <-gctx.Done():
				return ctrl.Exit()
			case line, ok := <-lines:
				if !ok {
					return ctrl.Exit()
				}
				switch line {
				case "start":
					if err := ctrl.Start(gctx); err != nil {
						fmt.Println("start failed:", err)
					}
				case "stop":
					if err := ctrl.Stop(); err != nil {
						fmt.Println("stop failed:", err)
					}
				case "status":
					if ctrl.Running() {
						fmt.Println("running, state:", eng.State())
					} else {
						fmt.Println("stopped")
					}
				case "exit", "quit":
					return ctrl.Exit()
				case "":
				default:
					fmt.Println("unknown command:", line)
				}
			}
		}
	})

	err := g.Wait()
	if err != nil {
		logger.Error("Run terminated with error.", zap.Error(err))
	}
	return err
}
