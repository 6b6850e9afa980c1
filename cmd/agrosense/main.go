package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/dgellow/agrosense/internal"
	"github.com/dgellow/agrosense/internal/config"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.SupportedVersion,
		"backend": map[string]any{
			"baseURL":       "https://api.agrosense.example",
			"timeout":       "15s",
			"sessionCookie": "session",
		},
		"otp": map[string]any{
			"cooldown":     "300s",
			"errorDismiss": "2.5s",
		},
		"storage": map[string]any{
			"kind":          "file",
			"encryptionKey": map[string]string{"$env": "AGROSENSE_ENCRYPTION_KEY"},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Println("Result: FAIL (warnings present)")
	} else {
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: agrosense [flags] <command>

Commands:
  signup <name> <phone>   create an account and verify the code sent by SMS
  signin <phone>          sign in with a code sent by SMS
  status                  show the signed-in user
  logout                  forget the stored session

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	logFile := flag.String("log-file", "", "write logs to this file instead of stderr")
	metricsFile := flag.String("metrics-file", "", "write Prometheus metrics to this file on exit (node_exporter textfile format)")
	flag.Usage = usage
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.LogWarn("Failed to load %s: %v", *envFile, err)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			log.LogError("Failed to open log file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting agrosense", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
		"command": flag.Arg(0),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := internal.NewApp(ctx, cfg, BuildVersion)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	err = run(ctx, app, flag.Args())
	if cerr := app.Close(); cerr != nil {
		log.LogError("Failed to close application: %v", cerr)
	}
	if *metricsFile != "" {
		if merr := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); merr != nil {
			log.LogError("Failed to write metrics: %v", merr)
		}
	}
	if err != nil {
		if !errors.Is(err, errAborted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
