package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
	"numtrack/internal/snapshots/file"
	"numtrack/internal/snapshots/remote"
)

// Backends the CLI can keep a ledger in.
const (
	BackendFile   = "file"
	BackendRemote = "remote"
)

// Setting keys, shared by flags, NUMTRACK_* variables and the config file.
const (
	keyBackend = "backend"
	keyDataDir = "data_dir"
	keyOwner   = "owner"
	keyServer  = "server"
	keyToken   = "token"
	keyNoColor = "no_color"
)

// app carries per-invocation state so commands stay testable without
// package globals.
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
	errOut  io.Writer
	// openStore is swapped in tests.
	openStore func(ctx context.Context) (*ledger.Store, error)
}

// NewRootCommand builds the numtrack command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}
	a.openStore = a.defaultOpenStore

	root := &cobra.Command{
		Use:   "numtrack",
		Short: "Track values against the numbers 00-99",
		Long: `numtrack records values against two-digit numbers (00-99), totals them,
and splits each total into a kept part and an excess over a global threshold.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (NUMTRACK_*)
  3. Config file (~/.numtrack/config.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			color.NoColor = color.NoColor || a.v.GetBool(keyNoColor)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.numtrack/config.yaml)")
	flags.String("backend", BackendFile, "where the ledger lives: file or remote")
	flags.String("data-dir", "", "directory for the file backend (default: $HOME/.numtrack/data)")
	flags.String("owner", "default", "ledger name for the file backend")
	flags.String("server", "http://localhost:8081", "API base URL for the remote backend")
	flags.Bool("no-color", false, "disable colored output")

	for key, flag := range map[string]string{
		keyBackend: "backend",
		keyDataDir: "data-dir",
		keyOwner:   "owner",
		keyServer:  "server",
		keyNoColor: "no-color",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.addCmd(), a.editCmd(), a.rmCmd(), a.thresholdCmd(),
		a.showCmd(), a.summaryCmd(), a.excessCmd(), a.resetCmd(), a.exportCmd(),
		a.loginCmd(), a.verifyCmd(), a.resendCmd(), a.configCmd(),
	)
	return root
}

// Execute runs the CLI against the process streams and returns the exit code.
func Execute() int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		return 1
	}
	return 0
}

func (a *app) initConfig() error {
	a.v.SetEnvPrefix("NUMTRACK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	path, err := a.configPath()
	if err != nil {
		return err
	}
	a.v.SetConfigFile(path)
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func (a *app) configPath() (string, error) {
	if a.cfgFile != "" {
		return a.cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".numtrack", "config.yaml"), nil
}

func (a *app) dataDir() (string, error) {
	if dir := a.v.GetString(keyDataDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".numtrack", "data"), nil
}

func (a *app) remoteClient(withToken bool) (*remote.Client, error) {
	var opts []remote.Option
	if withToken {
		token := a.v.GetString(keyToken)
		if token == "" {
			return nil, errors.New("not logged in: run 'numtrack login <email>' then 'numtrack verify'")
		}
		opts = append(opts, remote.WithToken(token))
	}
	return remote.New(a.v.GetString(keyServer), opts...)
}

// defaultOpenStore hydrates the ledger from the configured backend. A load
// failure is returned as an error rather than an empty store, since the
// next save would overwrite the persisted ledger.
func (a *app) defaultOpenStore(ctx context.Context) (*ledger.Store, error) {
	var p ledger.Persister
	switch backend := a.v.GetString(keyBackend); backend {
	case BackendFile:
		dir, err := a.dataDir()
		if err != nil {
			return nil, err
		}
		repo, err := file.New(dir)
		if err != nil {
			return nil, fmt.Errorf("open data dir: %w", err)
		}
		owner := a.v.GetString(keyOwner)
		if err := snapshots.ValidateOwner(owner); err != nil {
			return nil, err
		}
		p = snapshots.Bind(repo, owner)
	case BackendRemote:
		client, err := a.remoteClient(true)
		if err != nil {
			return nil, err
		}
		p = client
	default:
		return nil, fmt.Errorf("unknown backend %q: must be %s or %s", backend, BackendFile, BackendRemote)
	}

	store, err := ledger.Open(ctx, p)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return nil, errors.New("session expired: run 'numtrack login <email>' again")
		}
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return store, nil
}
