package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/agent"
	"github.com/v0xg/omniagent/internal/ai"
	"github.com/v0xg/omniagent/internal/browser"
	"github.com/v0xg/omniagent/internal/config"
	"github.com/v0xg/omniagent/internal/gifgen"
	"github.com/v0xg/omniagent/internal/mcpserver"
	"github.com/v0xg/omniagent/internal/parser"
	"github.com/v0xg/omniagent/internal/perception"
	"github.com/v0xg/omniagent/internal/synthetic"
	"github.com/v0xg/omniagent/internal/tracking"
)

const defaultDemoGoal = "Log in with username 'alice' and password 'secret', and check Remember Me"

var (
	url       string
	maxSteps  int
	outputDir string
	provider  string
	model     string
	makeGIF   bool
	scale     float64
	synth     bool
	gifOutput string
	gifDelay  time.Duration
	gifWidth  uint
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Maximum number of steps (default: agent.max_steps)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Base directory for run artifacts (default: agent.output_dir)")
	cmd.Flags().StringVar(&provider, "provider", "", "AI provider: claude, openai (default: planner.provider)")
	cmd.Flags().StringVar(&model, "model", "", "Specific model override")
	cmd.Flags().BoolVar(&makeGIF, "gif", false, "Assemble the run artifacts into run.gif")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Work towards a goal in a Chromium window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if url != "" {
				cfg.Browser.URL = url
			}
			if cfg.Browser.URL == "" {
				return fmt.Errorf("a start URL is required (--url or browser.url)")
			}

			visual, surface, err := openBrowserScreen(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer surface.Close()

			return runAgent(ctx, visual, surface, args[0])
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Start URL (default: browser.url)")
	addRunFlags(cmd)
	return cmd
}

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [goal]",
		Short: "Run the agent against the built-in synthetic login form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := defaultDemoGoal
			if len(args) == 1 {
				goal = args[0]
			}
			screen := synthetic.NewLoginScreen(synthetic.WithScaleFactor(scale), synthetic.WithLogger(logger))
			return runAgent(cmd.Context(), screen, screen, goal)
		},
	}
	cmd.Flags().Float64Var(&scale, "scale", 1, "Render scale of the synthetic screen")
	addRunFlags(cmd)
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve screen tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var (
				p  agent.Perception
				ex agent.Execution
			)
			if synth {
				screen := synthetic.NewLoginScreen(synthetic.WithScaleFactor(scale), synthetic.WithLogger(logger))
				p, ex = screen, screen
			} else {
				if url != "" {
					cfg.Browser.URL = url
				}
				// stdout carries the MCP stream
				visual, surface, err := openBrowserScreen(ctx, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer surface.Close()
				p = visual
				ex = surface
			}

			srv := mcpserver.New(p, ex,
				mcpserver.WithLogger(logger),
				mcpserver.WithScalingFactor(cfg.Agent.ScalingFactor))
			logger.Info("serving MCP over stdio", zap.Bool("synthetic", synth))
			return srv.ServeStdio()
		},
	}
	cmd.Flags().BoolVar(&synth, "synthetic", false, "Serve the synthetic login form instead of a browser")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Render scale of the synthetic screen")
	cmd.Flags().StringVar(&url, "url", "", "Start URL (default: browser.url)")
	return cmd
}

func newGifCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gif <run-dir>",
		Short: "Assemble a run's screenshots into an animated GIF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := gifOutput
			if out == "" {
				out = filepath.Join(args[0], "run.gif")
			}
			return buildGIF(args[0], out)
		},
	}
	cmd.Flags().StringVarP(&gifOutput, "output", "o", "", "Output filename (default: <run-dir>/run.gif)")
	cmd.Flags().DurationVar(&gifDelay, "delay", gifgen.DefaultDelay, "Delay per frame")
	cmd.Flags().UintVar(&gifWidth, "max-width", 800, "Maximum GIF width")
	return cmd
}

func newParserClient() *parser.Client {
	return parser.NewClient(cfg.Parser.URL,
		parser.WithTimeout(cfg.Parser.Timeout),
		parser.WithMaxRetries(cfg.Parser.MaxRetries),
		parser.WithLogger(logger))
}

// openBrowserScreen launches Chromium at cfg.Browser.URL and pairs it with
// the configured element detector
func openBrowserScreen(ctx context.Context, out io.Writer) (*perception.VisualState, *browser.Surface, error) {
	var client *parser.Client
	if cfg.Parser.Backend == config.BackendOmniParser {
		fmt.Fprintf(out, "→ Checking OmniParser at %s... ", cfg.Parser.URL)
		client = newParserClient()
		if err := client.Probe(ctx); err != nil {
			fmt.Fprintln(out, "failed")
			return nil, nil, err
		}
		fmt.Fprintln(out, "done")
	}

	fmt.Fprintf(out, "→ Launching browser at %s... ", cfg.Browser.URL)
	surface, err := launchBrowser(ctx)
	if err != nil {
		fmt.Fprintln(out, "failed")
		return nil, nil, err
	}
	fmt.Fprintln(out, "done")

	var detector perception.Parser = surface
	if client != nil {
		detector = client
	}
	visual := perception.New(surface, detector, perception.Options{
		DownsampleFactor: cfg.Parser.DownsampleFactor,
		MinElementPx:     cfg.Parser.MinElementPx,
	}, logger)
	return visual, surface, nil
}

func launchBrowser(ctx context.Context) (*browser.Surface, error) {
	return browser.Launch(ctx, browser.Options{
		URL:               cfg.Browser.URL,
		Width:             cfg.Browser.Width,
		Height:            cfg.Browser.Height,
		DeviceScaleFactor: cfg.Browser.DeviceScaleFactor,
		Headless:          cfg.Browser.Headless,
		ProfileDir:        cfg.Browser.ProfileDir,
		Timeout:           cfg.Browser.Timeout,
	}, logger)
}

func newPlanner() (*ai.Planner, error) {
	name := cfg.Planner.Provider
	if provider != "" {
		name = provider
	}
	m := cfg.Planner.Model
	if model != "" {
		m = model
	}

	p, err := ai.NewProvider(name, m, cfg.Planner.MaxTokens, cfg.Planner.Temperature)
	if err != nil {
		return nil, fmt.Errorf("AI provider init failed: %w", err)
	}
	return ai.NewPlanner(p,
		ai.WithMaxRetries(cfg.Planner.MaxRetries),
		ai.WithRequestsPerMinute(cfg.Planner.RequestsPerMinute),
		ai.WithDebugPrompts(cfg.Planner.DebugPrompts),
		ai.WithLogger(logger)), nil
}

func runAgent(ctx context.Context, p agent.Perception, ex agent.Execution, goal string) error {
	planner, err := newPlanner()
	if err != nil {
		return err
	}

	steps := cfg.Agent.MaxSteps
	if maxSteps > 0 {
		steps = maxSteps
	}
	base := cfg.Agent.OutputDir
	if outputDir != "" {
		base = outputDir
	}

	opts := []agent.Option{agent.WithLogger(logger)}
	if cfg.Agent.TrackElements {
		opts = append(opts, agent.WithTracker(tracking.New(
			tracking.WithMissThreshold(cfg.Tracker.MissThreshold),
			tracking.WithMatchingThreshold(cfg.Tracker.MatchingThreshold),
			tracking.WithLogger(logger))))
	}

	exec := agent.NewExecutor(p, planner, ex, agent.Config{
		SettleDelay:   cfg.Agent.SettleDelay,
		PreTypeDelay:  cfg.Agent.PreTypeDelay,
		ScrollAmount:  cfg.Agent.ScrollAmount,
		ScalingFactor: cfg.Agent.ScalingFactor,
	}, opts...)

	fmt.Printf("→ Working on %q (max %d steps)...\n", goal, steps)
	ok := exec.Run(ctx, goal, steps, base)
	report := exec.Report()

	for _, line := range report.History {
		fmt.Printf("  %s\n", line)
	}
	if report.OutputDir != "" {
		fmt.Printf("→ Artifacts in %s\n", report.OutputDir)
		if makeGIF {
			if err := buildGIF(report.OutputDir, filepath.Join(report.OutputDir, "run.gif")); err != nil {
				logger.Warn("GIF generation failed", zap.Error(err))
			}
		}
	}

	if !ok {
		fmt.Printf("✗ Goal not achieved (%s after %d steps)\n", report.Outcome, report.Steps)
		if err := report.Err(); err != nil {
			return err
		}
		return fmt.Errorf("goal not achieved: %s", report.Outcome)
	}
	fmt.Printf("✓ Goal achieved in %d steps\n", report.Steps)
	return nil
}

func buildGIF(runDir, out string) error {
	fmt.Printf("→ Collecting frames from %s... ", runDir)
	paths, err := gifgen.Collect(runDir)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	frames, err := gifgen.Load(paths, logger)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Printf("done (%d frames)\n", len(frames))

	delay := gifDelay
	if delay <= 0 {
		delay = gifgen.DefaultDelay
	}
	width := gifWidth
	if width == 0 {
		width = 800
	}

	fmt.Printf("→ Generating GIF... ")
	size, err := gifgen.Generate(frames, out, gifgen.Options{Delay: delay, MaxWidth: width})
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("GIF generation failed: %w", err)
	}
	fmt.Println("done")
	fmt.Printf("✓ Saved to %s (%.1f MB)\n", out, float64(size)/(1024*1024))
	return nil
}
