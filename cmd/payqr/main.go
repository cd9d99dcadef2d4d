package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
	"github.com/stellarlinkco/payqr/internal/gateway"
	"github.com/stellarlinkco/payqr/internal/logging"
	"github.com/stellarlinkco/payqr/internal/payqr"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

// consoleOrigin is the conversation the local REPL runs as.
var consoleOrigin = bus.Origin{Channel: "cli", ChatID: "local"}

// AgentOptions injects dependencies into the agent command.
type AgentOptions struct {
	RuntimeFactory gateway.RuntimeFactory
	Message        string
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:               "payqr",
	Short:             "payqr - chat agent that asks for money with a payment QR code",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent in single message or REPL mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgentWithOptions(AgentOptions{
			Message: messageFlag,
			Stdout:  cmd.OutOrStdout(),
			Stderr:  cmd.ErrOrStderr(),
			Stdin:   cmd.InOrStdin(),
		})
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + payment QR tool)",
	RunE:  runGateway,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Show where the payment QR code resolves to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := ""
		if len(args) == 1 {
			raw = args[0]
		}
		return runResolve(cmd.OutOrStdout(), raw)
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, workspace and payment QR storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard(cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show payqr status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout())
	},
}

var (
	messageFlag string
	logCloser   io.Closer
)

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(agentCmd, gatewayCmd, resolveCmd, onboardCmd, statusCmd)
}

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		// the command itself reports config errors
		return nil
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	logCloser = closer
	return nil
}

// consoleMessenger prints what the payment tool would send to a chat.
type consoleMessenger struct {
	out io.Writer
}

func (m consoleMessenger) SendMessage(_ context.Context, origin bus.Origin, msg plugin.Message) error {
	if _, err := fmt.Fprintf(m.out, "[%s] %s\n", origin, msg.Text); err != nil {
		return err
	}
	for _, img := range msg.Images {
		if _, err := os.Stat(img); err != nil {
			return fmt.Errorf("image: %w", err)
		}
		fmt.Fprintf(m.out, "[%s] image: %s\n", origin, img)
	}
	return nil
}

func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	plugins, err := gateway.NewPlugins(cfg, cfg.ResolveDataDir, consoleMessenger{out: stdout})
	if err != nil {
		return err
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = gateway.NewRuntime
	}
	rt, err := factory(cfg, gateway.BuildSystemPrompt(cfg.Agent.Workspace), plugins.Tools())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := bus.WithOrigin(context.Background(), consoleOrigin)

	if opts.Message != "" {
		out, err := gateway.RunPrompt(ctx, rt, opts.Message, "cli")
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
		return nil
	}

	fmt.Fprintln(stdout, "payqr agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		out, err := gateway.RunPrompt(ctx, rt, input, "cli-repl")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'payqr onboard' or set PAYQR_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runResolve(out io.Writer, raw string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if raw == "" {
		raw = cfg.PayQR.RawPath()
	}
	if raw == "" {
		return fmt.Errorf("no payment QR configured")
	}

	r := payqr.Resolver{ExtensionID: payqr.PluginID, DataDir: cfg.ResolveDataDir}
	fmt.Fprintf(out, "Configured: %s\n", raw)
	for i, c := range r.Candidates(raw) {
		mark := " "
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			mark = "*"
		}
		fmt.Fprintf(out, "  %s %d. %s\n", mark, i+1, c)
	}

	path, ok := r.Resolve(raw)
	if !ok {
		return fmt.Errorf("payment QR %q not found", raw)
	}
	fmt.Fprintf(out, "Resolved: %s\n", path)
	return nil
}

func runOnboard(out io.Writer) error {
	cfgPath := config.ConfigPath()
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	writeIfNotExists(out, filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(out, filepath.Join(ws, "SOUL.md"), defaultSoulMD)
	fmt.Fprintf(out, "Workspace ready: %s\n", ws)

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	qrDir := filepath.Join(dataDir, "plugin_data", payqr.PluginID)
	if err := os.MkdirAll(qrDir, 0o755); err != nil {
		return fmt.Errorf("create payment QR dir: %w", err)
	}
	fmt.Fprintf(out, "Payment QR dir: %s\n", qrDir)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Copy your payment QR image to %s\n", filepath.Join(qrDir, config.DefaultQRFile))
	fmt.Fprintf(out, "  2. Edit %s to set your API key, or set PAYQR_API_KEY\n", cfgPath)
	fmt.Fprintln(out, "  3. Run 'payqr agent -m \"I am broke\"' to test")
	return nil
}

func runStatus(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)

	if dataDir, err := cfg.ResolveDataDir(); err != nil {
		fmt.Fprintf(out, "Data dir: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Data dir: %s\n", dataDir)
	}

	raw := cfg.PayQR.RawPath()
	switch {
	case !cfg.PayQR.Enabled:
		fmt.Fprintln(out, "Payment QR: disabled")
	case raw == "":
		fmt.Fprintln(out, "Payment QR: not configured")
	default:
		r := payqr.Resolver{ExtensionID: payqr.PluginID, DataDir: cfg.ResolveDataDir}
		if path, ok := r.Resolve(raw); ok {
			fmt.Fprintf(out, "Payment QR: %s\n", path)
		} else {
			fmt.Fprintf(out, "Payment QR: %s not found (run 'payqr resolve')\n", raw)
		}
	}
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		logrus.Warnf("[onboard] write %s: %v", path, err)
		return
	}
	fmt.Fprintf(out, "  Created: %s\n", path)
}

const defaultAgentsMD = `# payqr Agent

You are a friendly chat companion who is always a little short on money.

## Guidelines
- Be concise and playful
- When you feel broke, or someone offers to pay, tip, sponsor or treat you,
  call the send_payment_qr tool to share your payment QR code
- Do not call the tool more than once per conversation turn
`

const defaultSoulMD = `# Soul

Cheerful, self-aware about being broke, never pushy.
If sending the QR code fails, apologise and carry on chatting.
`
