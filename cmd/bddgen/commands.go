package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/client"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/protocol"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

func (c *cli) generateCommand() *cobra.Command {
	var (
		req    protocol.CreateTaskRequest
		detach bool
	)
	var (
		headless    bool
		temperature float64
		maxTokens   int
		timeout     int
		slowMo      int
	)

	cmd := &cobra.Command{
		Use:   "generate <url>",
		Short: "Create a generation task and follow it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			req.URL = args[0]
			flags := cmd.Flags()
			if flags.Changed("headless") {
				req.Headless = &headless
			}
			if flags.Changed("temperature") {
				req.Temperature = &temperature
			}
			if flags.Changed("max-tokens") {
				req.MaxTokens = &maxTokens
			}
			if flags.Changed("timeout") {
				req.Timeout = &timeout
			}
			if flags.Changed("slow-mo") {
				req.SlowMo = &slowMo
			}

			id, err := api.CreateTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("Task created:"), bold(id))
			if detach {
				return nil
			}
			return c.follow(cmd.Context(), api, id)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.LLMProvider, "provider", "", "LLM provider (groq, openai, claude)")
	flags.StringVar(&req.LLMModel, "model", "", "model name from the provider catalog")
	flags.BoolVar(&headless, "headless", true, "run the page load headless")
	flags.Float64Var(&temperature, "temperature", 0.3, "sampling temperature (0-2)")
	flags.IntVar(&maxTokens, "max-tokens", 4096, "maximum output tokens")
	flags.IntVar(&timeout, "timeout", 30000, "page load timeout in milliseconds")
	flags.IntVar(&slowMo, "slow-mo", 100, "delay between browser actions in milliseconds")
	flags.BoolVar(&detach, "detach", false, "print the task id and exit")
	return cmd
}

func (c *cli) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			return c.follow(cmd.Context(), api, args[0])
		},
	}
}

// follow prints a task's events until its terminal event.
func (c *cli) follow(ctx context.Context, api *client.Client, taskID string) error {
	sup, err := c.supervisor(api)
	if err != nil {
		return err
	}
	obs := sup.Observe(ctx, taskID)

	mode := ""
	for ev := range obs.Events() {
		if m := obs.Mode(); m != mode {
			mode = m
			fmt.Println(gray("(receiving updates by " + mode + ")"))
		}
		printEvent(ev)
		if ev.Kind == task.EventError {
			return fmt.Errorf("task %s failed", taskID)
		}
	}
	return obs.Err()
}

func printEvent(ev task.Event) {
	switch ev.Kind {
	case task.EventComplete:
		fmt.Printf("%s %s\n", progressBar(100), green("Completed"))
		for _, f := range ev.Features {
			path := f.FilePath
			if path == "" {
				path = "(not archived)"
			}
			fmt.Printf("  %-6s %2d scenarios  %s\n", f.Kind, f.Scenarios, gray(path))
		}
	case task.EventError:
		fmt.Printf("%s %s\n", progressBar(ev.Progress), red("Failed: "+ev.Error))
	default:
		step := ev.CurrentStep
		if step == "" {
			step = string(ev.Status)
		}
		fmt.Printf("%s %s\n", progressBar(ev.Progress), blue(step))
	}
}

func progressBar(progress int) string {
	const width = 20
	filled := progress * width / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), progress)
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task and its pipeline stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			resp, err := api.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t := resp.Task
			fmt.Printf("%s %s\n", bold("Task"), t.ID)
			fmt.Printf("  URL:      %s\n", t.URL)
			fmt.Printf("  Model:    %s/%s\n", t.LLMProvider, t.LLMModel)
			fmt.Printf("  Status:   %s\n", colorStatus(t.Status))
			fmt.Printf("  Progress: %s\n", progressBar(t.Progress))
			fmt.Printf("  Step:     %s\n", t.CurrentStep)
			fmt.Printf("  Created:  %s\n", formatTime(t.CreatedAt))
			if t.ErrorMessage != "" {
				fmt.Printf("  Error:    %s\n", red(t.ErrorMessage))
			}

			wf, err := api.Workflow(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			fmt.Println(bold("Stages"))
			for _, s := range wf.Stages {
				fmt.Printf("  %3d%%  %-16s %s\n", s.Checkpoint, s.Name, colorStage(s.Status))
			}
			for _, f := range resp.Features {
				fmt.Printf("%s %s (%d scenarios)\n", bold("Feature"), f.Kind, task.CountScenarios(f.Content))
			}
			return nil
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			tasks, err := api.ListTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println(gray("No tasks yet."))
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%s  %-20s %4d%%  %-9s %s\n",
					t.ID, formatTime(t.CreatedAt), t.Progress, colorStatus(t.Status), t.URL)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of tasks")
	return cmd
}

func (c *cli) logsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print a task's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			logs, err := api.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, l := range logs {
				level := string(l.Level)
				switch l.Level {
				case task.LogError:
					level = red(level)
				case task.LogWarning:
					level = yellow(level)
				default:
					level = blue(level)
				}
				fmt.Printf("%s %-7s %s\n", gray(formatTime(l.CreatedAt)), level, l.Message)
			}
			return nil
		},
	}
}

func (c *cli) downloadCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download <task-id> <hover|popup>",
		Short: "Save a generated feature file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := task.ParseFeatureKind(args[1])
			if !ok {
				return fmt.Errorf("feature type must be hover or popup, got %q", args[1])
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			d, err := api.Download(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			path := filepath.Join(dir, filepath.Base(d.FileName))
			if err := os.WriteFile(path, d.Content, 0644); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("Saved"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "directory to write the feature file to")
	return cmd
}

func (c *cli) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the server's providers, models and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			cfg, err := api.Config(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range cfg.Providers {
				name := p.Name
				if p.Name == cfg.DefaultProvider {
					name += " (default)"
				}
				state := green("available")
				if !p.Available {
					state = yellow("no API key")
				}
				fmt.Printf("%s  %s\n", bold(name), state)
				for _, m := range p.Models {
					fmt.Printf("  %s\n", m)
				}
			}
			d := cfg.Defaults
			fmt.Printf("%s temperature=%.1f max_tokens=%d headless=%t timeout=%dms slow_mo=%dms\n",
				bold("Defaults:"), d.Temperature, d.MaxTokens, d.Headless, d.TimeoutMillis, d.SlowMoMillis)
			return nil
		},
	}
}
