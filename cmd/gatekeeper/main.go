package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/MrCodeEU/gatekeeper/pkg/config"
	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/MrCodeEU/gatekeeper/pkg/relay"
	"github.com/MrCodeEU/gatekeeper/pkg/storage"
)

const version = "0.3.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

var commandOrder = []string{"run", "rebuild-cache", "pulse", "events", "download-models", "config", "version", "help"}

func init() {
	commands = map[string]*Command{
		"run": {
			Name:        "run",
			Description: "Run the gate controller",
			Usage:       "gatekeeper run",
			Run:         cmdRun,
		},
		"rebuild-cache": {
			Name:        "rebuild-cache",
			Description: "Recompute the face embedding cache from the registry",
			Usage:       "gatekeeper rebuild-cache",
			Run:         cmdRebuildCache,
		},
		"pulse": {
			Name:        "pulse",
			Description: "Pulse one relay (gate, alarm_arm, alarm_night, alarm_off)",
			Usage:       "gatekeeper pulse <switch>",
			Run:         cmdPulse,
		},
		"events": {
			Name:        "events",
			Description: "List the most recent gate events",
			Usage:       "gatekeeper events [limit]",
			Run:         cmdEvents,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib models and the Haar cascade",
			Usage:       "gatekeeper download-models [dir]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "gatekeeper config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "gatekeeper version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "gatekeeper help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to an optional .env file with secrets")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("Gatekeeper v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	err = cmd.Run(args[1:])
	if err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Gatekeeper - face recognition gate controller")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: gatekeeper [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -env <file>      Path to .env file (default .env)")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  gatekeeper run                 # Start the gate loop")
	fmt.Println("  gatekeeper pulse gate          # Open the gate once")
	fmt.Println("  gatekeeper -debug rebuild-cache")
	fmt.Println("\nRun 'gatekeeper help <command>' for more information on a command.")
}

func cmdRebuildCache(args []string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	people, err := registry.Open(cfg.Storage.RegistryDB, cfg.I18n.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() { _ = people.Close() }()

	recognizer := recognition.NewEngine()
	if err := recognizer.Load(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load recognition models: %w", err)
	}
	defer func() { _ = recognizer.Close() }()

	cache, err := storage.NewCacheStore(cfg.Storage.CacheDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	if err := cache.Clear(); err != nil {
		return err
	}

	gallery, err := storage.NewEmbeddingStore(people, recognizer, cache).Embeddings(context.Background())
	if err != nil {
		return fmt.Errorf("failed to rebuild cache: %w", err)
	}

	fmt.Printf("Embedding cache rebuilt: %d embedding(s) in %s\n", gallery.Len(), cfg.Storage.CacheDir)
	return nil
}

func cmdPulse(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("switch name required\nUsage: gatekeeper pulse <switch>")
	}

	relays := relay.New(cfg.Relays.Endpoints(), cfg.Relays.PulseWidth, cfg.Relays.RequestTimeout)
	if err := relays.Pulse(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Pulsed %s\n", args[0])
	return nil
}

func cmdEvents(args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	events, err := eventlog.Open(cfg.Storage.EventsDB)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = events.Close() }()

	list, err := events.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No events logged.")
		return nil
	}

	for _, e := range list {
		fmt.Printf("  %s %s  %-5d %s %s\n", e.Date, e.Time, e.ActionCode, e.Name, e.Surname)
	}
	fmt.Printf("\nShowing %d event(s)\n", len(list))
	return nil
}

func cmdConfig(args []string) error {
	logging.Debugf("Showing configuration")

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d\n", cfg.Camera.Width, cfg.Camera.Height)
	fmt.Printf("  Drain Frames:    %d\n", cfg.Camera.DrainFrames)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Printf("  Resize Factor:   %.2f\n", cfg.Recognition.ResizeFactor)
	fmt.Printf("  Confirmation:    %s\n", cfg.Recognition.ConfirmationDelay)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  Cascade:         %s\n", cfg.Recognition.CascadeFile)
	fmt.Println()
	fmt.Println("[Relays]")
	for _, name := range []string{"gate", "alarm_arm", "alarm_night", "alarm_off"} {
		fmt.Printf("  %-16s %s\n", name+":", cfg.Relays.Endpoints()[name])
	}
	fmt.Printf("  Pulse Width:     %s\n", cfg.Relays.PulseWidth)
	fmt.Println()
	fmt.Println("[Gate / Alarm]")
	fmt.Printf("  Open Short:      %s\n", cfg.Gate.OpenShort)
	fmt.Printf("  Wait Short:      %s\n", cfg.Gate.WaitShort)
	fmt.Printf("  Alarm Attempts:  %d (backoff %s)\n", cfg.Alarm.Attempts, cfg.Alarm.Backoff)
	fmt.Println()
	fmt.Println("[Keypad]")
	fmt.Printf("  Timeout:         %s\n", cfg.Keypad.Timeout)
	fmt.Printf("  Max Attempts:    %d\n", cfg.Keypad.MaxAttempts)
	fmt.Println()
	fmt.Println("[Notify]")
	fmt.Printf("  Enabled:         %t\n", cfg.Notify.Enabled)
	fmt.Printf("  Token Set:       %t\n", cfg.Notify.TelegramToken != "")
	fmt.Printf("  Response:        %s\n", cfg.Notify.ResponseTimeout)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Registry:        %s\n", cfg.Storage.RegistryDB)
	fmt.Printf("  Events:          %s\n", cfg.Storage.EventsDB)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nConfiguration is invalid: %v\n", err)
	}
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("Gatekeeper v%s\n", version)
	fmt.Println("Face recognition gate controller")
	fmt.Println()
	fmt.Println("Build Information:")
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "run":
		fmt.Println("\nThe loop:")
		fmt.Println("  1. Waits for a face and identifies it")
		fmt.Println("  2. Asks for the PIN on the touch keypad")
		fmt.Println("  3. Opens the gate, arms/disarms the alarm or pings the operator")
		fmt.Println("  4. Logs the event")
		fmt.Println("\nEnter ***000*** on the keypad to stop the program.")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/gatekeeper/gatekeeper.yaml")
		fmt.Println("  User:   ~/.config/gatekeeper/gatekeeper.yaml")
		fmt.Println("\nSecrets are read from the environment:")
		fmt.Printf("  %s, %s, %s<SWITCH>\n", config.EnvTelegramToken, config.EnvTelegramChatID, config.EnvRelayPrefix)
	}

	return nil
}
