package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

const version = "1.0.0"

const defaultConfigPath = "~/.config/volumed/config.yaml"

// shutdownGrace bounds how long main waits for goroutines after a signal.
const shutdownGrace = 3 * time.Second

func printVersion() {
	fmt.Printf("volumed v%s\n", version)
	fmt.Println("Desktop volume daemon for PulseAudio")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  volumed [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Keeps track of the default PulseAudio sink and source, raises, lowers")
	fmt.Println("  and mutes them on request (multimedia keys, volumectl, IPC) and shows a")
	fmt.Println("  desktop notification for every change. Reconnects when the sound server")
	fmt.Println("  restarts.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q, used if it exists)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -pulse-server string")
	fmt.Println("        PulseAudio server address (default: $PULSE_SERVER or the user socket)")
	fmt.Println()
	fmt.Println("  -reconnect-delay-ms int")
	fmt.Printf("        Delay before reconnecting after the server went away (default %d)\n", defaultReconnectDelayMS)
	fmt.Println()
	fmt.Println("  -settings string")
	fmt.Printf("        Settings file holding volume-step-size (default %q)\n", defaultSettingsPath)
	fmt.Println()
	fmt.Println("  -notify")
	fmt.Println("        Show desktop notifications (default true)")
	fmt.Println()
	fmt.Println("  -notify-gauge")
	fmt.Println("        Force 101/-1 overshoot/undershoot gauge values (detected from the")
	fmt.Println("        notification server by default)")
	fmt.Println()
	fmt.Println("  -hotkey-device string")
	fmt.Println("        Linux input device to read multimedia keys from (repeatable)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -state-ws")
	fmt.Println("        Serve state changes over websocket")
	fmt.Println()
	fmt.Println("  -state-ws-listen string")
	fmt.Printf("        State websocket listen address (default %q)\n", defaultStateWSListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults")
	fmt.Println("  volumed")
	fmt.Println()
	fmt.Println("  # Read the keyboard's multimedia keys directly")
	fmt.Println("  volumed -hotkey-device /dev/input/event3")
	fmt.Println()
	fmt.Println("  # Change the step size while running")
	fmt.Println("  echo 'volume-step-size: 2' > ~/.config/volumed/settings.yaml")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Reading input devices needs the 'input' group")
	fmt.Println("  - Without -hotkey-device, bind keys to 'volumectl raise' etc. in your WM")
	fmt.Println()
}

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		configPath       = flag.String("config", "", "YAML config file")
		pulseServer      = flag.String("pulse-server", "", "PulseAudio server address")
		reconnectDelayMS = flag.Int("reconnect-delay-ms", defaultReconnectDelayMS, "Delay before reconnecting in ms")
		settingsPath     = flag.String("settings", defaultSettingsPath, "Settings file holding volume-step-size")
		notifyEnabled    = flag.Bool("notify", true, "Show desktop notifications")
		notifyGauge      = flag.Bool("notify-gauge", false, "Force gauge overshoot/undershoot values")
		ipcSocketPath    = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		stateWSEnabled   = flag.Bool("state-ws", false, "Serve state changes over websocket")
		stateWSListen    = flag.String("state-ws-listen", defaultStateWSListen, "State websocket listen address")
		logLevelStr      = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion      = flag.Bool("version", false, "Print version and exit")
		showHelp         = flag.Bool("help", false, "Print help message")
		hotkeyDevices    stringList
	)
	flag.Var(&hotkeyDevices, "hotkey-device", "Linux input device for multimedia keys (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(*configPath, set["config"])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	var o FlagOverrides
	if set["pulse-server"] {
		o.PulseServer = pulseServer
	}
	if set["reconnect-delay-ms"] {
		o.ReconnectDelayMS = reconnectDelayMS
	}
	if set["settings"] {
		o.SettingsPath = settingsPath
	}
	if set["notify"] {
		o.NotifyEnabled = notifyEnabled
	}
	if set["notify-gauge"] {
		o.NotifyGauge = notifyGauge
	}
	o.HotkeyDevices = hotkeyDevices
	if set["ipc-socket"] {
		o.IPCSocketPath = ipcSocketPath
	}
	if set["state-ws"] {
		o.StateWSEnabled = stateWSEnabled
	}
	if set["state-ws-listen"] {
		o.StateWSListen = stateWSListen
	}
	if set["log-level"] {
		o.LogLevel = logLevelStr
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(os.Stdout, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Central event bus; every producer posts here, only the daemon loop reads.
	events := make(chan Event, defaultEventsChannelSize)
	post := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error(name+" stopped", "error", err)
			}
		}()
	}

	// Settings: the reducer validates the stored step and writes back the
	// default if it is missing or out of range.
	settings := NewSettingsStore(cfg.Settings.Path)
	step, stepSet, err := settings.StepSize()
	if err != nil {
		logger.Warn("could not read settings; using default step size", "path", settings.Path(), "error", err)
	}
	events <- StepSizeChanged{Value: step, Set: stepSet && err == nil}

	goRun("settings watcher", func() error {
		return settings.Watch(ctx, defaultSettingsDebounce, func(ev StepSizeChanged) { post(ev) }, logger)
	})

	rc := cfg.ToReducerConfig()

	var notifier Notifier = noopNotifier{}
	if cfg.Notify.Enabled {
		dn := NewDesktopNotifier(cfg.Notify.AppName, defaultNotifyQueueSize, logger)
		// A gauge-capable server gets the 101/-1 sentinels even when not forced.
		rc.GaugeNotifications = rc.GaugeNotifications || dn.Gauge()
		goRun("notifier", func() error {
			dn.Run(ctx)
			return nil
		})
		notifier = dn
	}

	fx := Effects{
		Server:    NewPulseServer(cfg.ToPulseConfig(), post, logger),
		Reconnect: newReconnectTimer(post),
		Notifier:  notifier,
		Settings:  settings,
	}

	var broadcasts chan StateBroadcast
	if cfg.StateWS.Enabled {
		broadcasts = make(chan StateBroadcast, 128)
		srv := NewStateServer(logger, events, HubConfig{})
		goRun("ws hub", func() error {
			srv.Hub().Run(ctx)
			return nil
		})
		goRun("ws broadcaster", func() error {
			RunBroadcaster(ctx, srv.Hub(), broadcasts, logger)
			return nil
		})
		goRun("state websocket", func() error {
			return runStateWSServer(ctx, cfg.StateWS.Listen, cfg.StateWS.Path, srv, logger)
		})
	}

	facade := NewFacade(events, logger)

	daemonDone := make(chan struct{})
	go func() {
		defer close(daemonDone)
		runDaemon(ctx, events, fx, rc, NewDaemonState(defaultStepSize), broadcasts, logger)
	}()

	goRun("ipc server", func() error {
		return runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), facade, events, logger)
	})

	if cfg.Hotkeys.Enabled {
		goRun("hotkeys", func() error {
			return runHotkeys(ctx, cfg.Hotkeys.Devices, facade, logger)
		})
	}

	logger.Debug("starting volumed", "version", version)
	logger.Info("running",
		"pulse_server", cfg.Pulse.Server,
		"settings", settings.Path(),
		"ipc", cfg.IPC.SocketPath,
		"notify", cfg.Notify.Enabled,
		"hotkeys", cfg.Hotkeys.Devices,
		"state_ws", cfg.StateWS.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")

	<-daemonDone

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown timed out; exiting anyway")
	}
}

// loadConfig loads the config file. An explicitly given path must exist; the
// default path is optional.
func loadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := LoadConfigFile(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Config{}, err
}
