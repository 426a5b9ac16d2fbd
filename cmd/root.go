package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/fedhost/internal/app"
	"github.com/zjrosen/fedhost/internal/composer"
	"github.com/zjrosen/fedhost/internal/config"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/records"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/remote"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/tracing"
	"github.com/zjrosen/fedhost/internal/ui/markdown"
	"github.com/zjrosen/fedhost/internal/ui/styles"
)

func init() {
	// Query the terminal background before the program starts so the OSC 11
	// reply does not race with Bubble Tea's input loop.
	_ = lipgloss.HasDarkBackground()
}

const (
	localConfigPath = ".fedhost/config.yaml"
	envPrefix       = "FEDHOST"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "fedhost",
	Short: "A terminal host for independently deployed UI modules",
	Long: `fedhost composes remotely served UI fragments into one terminal app.

A header module stays mounted across routes while each route mounts its own
page modules. Modules share one event broker and one shared user record, and
a module that fails to load or render is replaced by a fallback without
affecting the rest of the screen.`,
	Version: version,
	RunE:    runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .fedhost/config.yaml or ~/.config/fedhost/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also FEDHOST_DEBUG)")
	rootCmd.PersistentFlags().String("env", "",
		"module environment: development or production")
	rootCmd.Flags().StringP("path", "p", "/", "initial route")
	rootCmd.Flags().Bool("no-color", false, "disable colors (also NO_COLOR)")

	_ = viper.BindPFlag("environment", rootCmd.PersistentFlags().Lookup("env"))
}

func initConfig() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}
	loaded, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg = loaded
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// loadConfig reads configuration into v and decodes it. Lookup order:
//  1. path, when given
//  2. .fedhost/config.yaml (current directory)
//  3. ~/.config/fedhost/config.yaml (user config)
//
// When nothing is found a default file is written to .fedhost/config.yaml.
// FEDHOST_* environment variables override file values.
func loadConfig(v *viper.Viper, path string) (config.Config, error) {
	defaults := config.Defaults()
	v.SetDefault("environment", defaults.Environment)
	v.SetDefault("layout", defaults.Layout)
	v.SetDefault("default_route", defaults.DefaultRoute)
	v.SetDefault("records.url", defaults.Records.URL)
	v.SetDefault("records.fetch_timeout", defaults.Records.FetchTimeout)
	v.SetDefault("records.persist_timeout", defaults.Records.PersistTimeout)
	v.SetDefault("records.default", defaults.Records.Default)
	v.SetDefault("registry.load_timeout", defaults.Registry.LoadTimeout)
	v.SetDefault("registry.render_timeout", defaults.Registry.RenderTimeout)
	v.SetDefault("ui.show_status_bar", defaults.UI.ShowStatusBar)
	v.SetDefault("ui.markdown_style", defaults.UI.MarkdownStyle)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else if _, err := os.Stat(localConfigPath); err == nil {
		v.SetConfigFile(localConfigPath)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "fedhost"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	var readErr error
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				v.SetConfigFile(localConfigPath)
				readErr = v.ReadInConfig()
			}
		} else {
			readErr = fmt.Errorf("reading config: %w", err)
		}
	}

	out := defaults
	out.Modules = nil
	out.Routes = nil
	if err := v.Unmarshal(&out); err != nil {
		return defaults, fmt.Errorf("decoding config: %w", err)
	}
	if !v.IsSet("modules") {
		out.Modules = defaults.Modules
	}
	if !v.IsSet("routes") {
		out.Routes = defaults.Routes
	}
	return out, readErr
}

// configFilePath is where `modules --save` writes.
func configFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return localConfigPath
}

// initLogging installs the file logger when --debug or FEDHOST_DEBUG is set.
// The log path comes from FEDHOST_LOG, default debug.log.
func initLogging(prefix string) (func(), error) {
	if !debugFlag && !log.EnabledFromEnv() {
		return func() {}, nil
	}
	logPath := os.Getenv("FEDHOST_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "logging started", "path", logPath, "config", viper.ConfigFileUsed())
	return cleanup, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := initLogging("fedhost")
	if err != nil {
		return err
	}
	defer cleanup()

	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	styles.ApplyTheme(cfg.Theme.Muted, cfg.Theme.Error, cfg.Theme.Success)

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
		}
	}()

	host, err := buildHost(cfg)
	if err != nil {
		return err
	}
	defer host.Close()

	startPath, _ := cmd.Flags().GetString("path")
	model := app.New(app.Config{
		Host:          host,
		StartPath:     startPath,
		ShowStatusBar: cfg.UI.ShowStatusBar,
		Debug:         debugFlag || log.EnabledFromEnv(),
		StartTimeout:  cfg.Records.FetchTimeout + time.Second,
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// buildHost wires the registry, remote loader and record service client
// into a composer. Nothing is mounted until the composer is started.
func buildHost(c config.Config) (*composer.Composer, error) {
	env, err := registry.ParseEnvironment(c.Environment)
	if err != nil {
		return nil, err
	}

	loader := remote.NewLoader(remote.Config{
		RenderTimeout: c.Registry.RenderTimeout,
		Markdown:      markdown.New(c.UI.MarkdownStyle != "notty"),
	})
	reg := registry.New(registry.Config{
		Environment: env,
		Fetcher:     loader,
		LoadTimeout: c.Registry.LoadTimeout,
	})
	for _, d := range c.Descriptors() {
		if err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("registering module: %w", err)
		}
	}

	state := sharedstate.Config{
		Default:        sharedstate.Record(c.Records.Default),
		FetchTimeout:   c.Records.FetchTimeout,
		PersistTimeout: c.Records.PersistTimeout,
	}
	if c.Records.URL != "" {
		state.Service = records.NewClient(c.Records.URL, nil)
	}

	host, err := composer.New(composer.Config{
		Layout:       c.Layout,
		Routes:       c.Routes,
		DefaultRoute: c.DefaultRoute,
		Titles:       c.Titles(),
		Registry:     reg,
		State:        state,
	})
	if err != nil {
		return nil, fmt.Errorf("creating host: %w", err)
	}
	log.Info(log.CatHost, "host created", "environment", env, "modules", len(c.Modules), "routes", len(c.Routes))
	return host, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
