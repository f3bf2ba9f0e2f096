package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <numbers> <value>",
		Short: "Add a value to one or more numbers",
		Long: `Add a value to every number in a list such as "00,04,67" or "5.12".
Commas and periods both separate numbers; a repeated number gets the value
once per occurrence.`,
		Example: "  numtrack add 05,17 12.5",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := core.ParseLabels(args[0])
			if err != nil {
				return err
			}
			value, err := core.ParseValue(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			err = store.Append(cmd.Context(), labels, value)
			return a.reportMutation(err, "Added %s to %s", core.FormatValue(value), joinLabels(labels))
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <number> <index> <value>",
		Short: "Replace one recorded value",
		Long:  "Replace the value at a zero-based position; 'numtrack show <number>' lists positions.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := parseLabelArg(args[0])
			if err != nil {
				return err
			}
			index, err := parseIndexArg(args[1])
			if err != nil {
				return err
			}
			value, err := core.ParseValue(args[2])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			err = store.UpdateAt(cmd.Context(), label, index, value)
			return a.reportMutation(err, "Updated %s[%d] to %s", label, index, core.FormatValue(value))
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <number> [index]",
		Short: "Remove one value, or every value of a number",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := parseLabelArg(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				err = store.RemoveLabel(cmd.Context(), label)
				return a.reportMutation(err, "Removed every value of %s", label)
			}
			index, err := parseIndexArg(args[1])
			if err != nil {
				return err
			}
			err = store.RemoveAt(cmd.Context(), label, index)
			return a.reportMutation(err, "Removed %s[%d]", label, index)
		},
	}
}

func (a *app) thresholdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threshold [value]",
		Short: "Show or set the global threshold",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(a.out, core.FormatValue(store.Threshold()))
				return nil
			}
			value, err := core.ParseValue(args[0])
			if err != nil {
				return err
			}
			err = store.SetThreshold(cmd.Context(), value)
			return a.reportMutation(err, "Threshold set to %s", core.FormatValue(value))
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [number]",
		Short: "Show the ledger table, or the values of one number",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				label, err := parseLabelArg(args[0])
				if err != nil {
					return err
				}
				printEntries(a.out, label, store.Entries(label))
				return nil
			}
			printTable(a.out, store.Summary())
			return nil
		},
	}
}

func (a *app) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show totals, kept and excess",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(a.out, store.Summary())
			return nil
		},
	}
}

func (a *app) excessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "excess",
		Short: `Print the consolidated excess, e.g. "05(60), 17(3.5)"`,
		Long:  "Print only the consolidated excess string so it can be piped or copied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, ledger.ConsolidatedExcess(store.Snapshot()))
			return nil
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every value and the threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes every value; pass --yes to confirm")
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			return a.reportMutation(store.Reset(cmd.Context()), "Ledger cleared")
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the full summary as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			sum := store.Summary()
			switch strings.ToLower(format) {
			case "json":
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			case "yaml", "yml":
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(sum); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q: must be json or yaml", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Request a one-time login code from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient(false)
			if err != nil {
				return err
			}
			resp, err := client.Login(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, resp.Message)
			fmt.Fprintf(a.out, "Then run: numtrack verify %s <code>\n", resp.UserID)
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <userId> <code>",
		Short: "Exchange a login code for a session token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient(false)
			if err != nil {
				return err
			}
			resp, err := client.VerifyOTP(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			path, err := a.configPath()
			if err != nil {
				return err
			}
			if err := updateConfigFile(path, map[string]any{
				keyToken:   resp.Token,
				keyBackend: BackendRemote,
				keyServer:  a.v.GetString(keyServer),
			}); err != nil {
				return err
			}
			fmt.Fprintln(a.out, success("Logged in as %s", resp.User.Email))
			fmt.Fprintf(a.out, "Session saved to %s\n", path)
			return nil
		},
	}
}

func (a *app) resendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <userId>",
		Short: "Send a fresh login code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient(false)
			if err != nil {
				return err
			}
			resp, err := client.ResendOTP(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, resp.Message)
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.dataDir()
			if err != nil {
				return err
			}
			token := a.v.GetString(keyToken)
			if token != "" {
				token = "(set)"
			}
			out, err := yaml.Marshal(map[string]any{
				keyBackend: a.v.GetString(keyBackend),
				keyDataDir: dir,
				keyOwner:   a.v.GetString(keyOwner),
				keyServer:  a.v.GetString(keyServer),
				keyToken:   token,
			})
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(a.out, "# %s\n", used)
			}
			_, err = a.out.Write(out)
			return err
		},
	}
	return cmd
}

// reportMutation prints the success line, or a warning when the change was
// kept locally but not persisted.
func (a *app) reportMutation(err error, format string, args ...any) error {
	if err != nil && !ledger.IsSyncError(err) {
		return err
	}
	fmt.Fprintln(a.out, success(format, args...))
	if err != nil {
		fmt.Fprintln(a.errOut, warning("warning: change applied but not saved: %v", err))
	}
	return nil
}

// updateConfigFile merges values into the YAML file at path, keeping any
// other keys already there.
func updateConfigFile(path string, values map[string]any) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range values {
		doc[k] = v
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// The file holds a bearer token.
	return os.WriteFile(path, out, 0o600)
}

func parseLabelArg(s string) (core.Label, error) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		s = "0" + s
	}
	if !core.IsLabel(s) {
		return "", fmt.Errorf("%w: %q, use a number between 0 and 99", ledger.ErrInvalidLabel, s)
	}
	return core.Label(s), nil
}

func parseIndexArg(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q: must be a non-negative integer", s)
	}
	return i, nil
}

func joinLabels(labels []core.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}
