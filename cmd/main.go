package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"daq"
	"daq/Display"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	portName    string
	baudRate    int
	windowWidth int
	timeMode    bool
	recordDir   string
	record      bool
	replayFile  string
	listenAddr  string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "daq",
	Short: "Plot and record numeric text streamed from a microcontroller",
	Long: `daq reads newline-delimited, whitespace-separated numbers from a serial port,
keeps a sliding window of the most recent samples per signal and serves them for
live display. Lines can be recorded to a timestamped .tab file.

Console commands while running:
  start | stop | rec [dir] | rec stop | width N | time on|off | status | exit`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	def := daq.DefaultConfig()
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVarP(&portName, "port", "p", "", "serial port device")
	rootCmd.Flags().IntVarP(&baudRate, "baud", "b", def.Serial.BaudRate, "baud rate (9600, 19200, 38400, 57600, 115200)")
	rootCmd.Flags().IntVarP(&windowWidth, "width", "w", def.Session.WindowWidth, "samples kept per signal")
	rootCmd.Flags().BoolVarP(&timeMode, "time", "t", def.Session.TimeMode, "first field of each line is the x axis")
	rootCmd.Flags().StringVar(&recordDir, "record-dir", "", "directory for recordings (default home dir)")
	rootCmd.Flags().BoolVarP(&record, "record", "r", false, "start recording immediately")
	rootCmd.Flags().StringVar(&replayFile, "replay", "", "replay a recorded .tab file instead of a serial port")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "serve live display on this address, e.g. :8080")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// loadConfig 配置文件打底，命令行显式给出的参数覆盖
func loadConfig(cmd *cobra.Command) (*daq.Config, error) {
	cfg := daq.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = daq.LoadConfig(configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.BaudRate = baudRate
	}
	if flags.Changed("width") {
		cfg.Session.WindowWidth = windowWidth
	}
	if flags.Changed("time") {
		cfg.Session.TimeMode = timeMode
	}
	if flags.Changed("record-dir") {
		cfg.Recording.Directory = recordDir
	}
	if flags.Changed("replay") {
		cfg.Serial.ReplayFile = replayFile
	}
	if flags.Changed("listen") {
		cfg.Display.ListenAddr = listenAddr
	}
	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()
	slog.SetDefault(logger)

	// 1. 初始化系统
	system, err := daq.NewDAQSystem(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 显示服务
	var server *Display.Server
	if cfg.Display.ListenAddr != "" {
		server = Display.NewServer(system.Acquisition(), system.Registry(), logger)
		go func() {
			if err := server.ListenAndServe(cfg.Display.ListenAddr); err != nil {
				logger.Error("display server", "error", err)
				stop()
			}
		}()
	}

	// 3. 启动采集
	if err := system.Start(ctx); err != nil {
		return err
	}
	defer system.Stop()

	if record {
		if err := system.HandleInput("rec"); err != nil {
			return err
		}
	}

	// 4. 控制台输入
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("System Ready. (Type 'help' for commands, 'exit' to quit)")
		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
				stop()
				return
			}
			_ = system.HandleInput(input)
			fmt.Print("> ")
		}
	}()

	// 阻塞等待退出信号
	<-ctx.Done()
	fmt.Println("\nShutting down...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
