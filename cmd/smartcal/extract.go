package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartcal/internal/extract"
	"smartcal/internal/ics"
	"smartcal/internal/model"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// inputText joins args, or reads stdin when there are none.
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func newExtractCmd(flags *rootFlags) *cobra.Command {
	var (
		asJSON bool
		noAI   bool
	)
	cmd := &cobra.Command{
		Use:   "extract [text...]",
		Short: "Extract calendar events from text (args or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loc, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if noAI {
				cfg.Extraction.AI.Enabled = false
			}
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			res := newExtractor(cfg, loc, nil).Extract(cmd.Context(), text)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return fmt.Errorf("extraction failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "Use rule-based extraction only")
	return cmd
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		output string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "export [text...]",
		Short: "Extract events from text and write them as an .ics calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loc, err := loadConfig(flags)
			if err != nil {
				return err
			}
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			res := newExtractor(cfg, loc, nil).Extract(cmd.Context(), text)
			if !res.Success {
				return fmt.Errorf("extraction failed: %s", res.Error)
			}
			body := ics.Export(res.Events, loc, name)

			if output == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d event(s) written to %s\n", green("✔"), len(res.Events), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&name, "name", "smartcal", "Calendar name (X-WR-CALNAME)")
	return cmd
}

func printResult(w io.Writer, res extract.Result) {
	if !res.Success {
		fmt.Fprintf(w, "%s %s\n", red("✘"), res.Error)
		return
	}
	if len(res.Events) == 0 {
		fmt.Fprintln(w, yellow("no events found"))
		return
	}

	fmt.Fprintf(w, "%s %d event(s) via %s, confidence %.2f\n",
		green("✔"), len(res.Events), cyan(res.Source), res.Confidence)
	for _, ev := range res.Events {
		fmt.Fprintf(w, "\n  %s %s\n", bold(ev.Title), priorityTag(ev.Priority))
		fmt.Fprintf(w, "    %s %s → %s\n", gray("time"), ev.StartDate, ev.EndDate)
		fmt.Fprintf(w, "    %s %s\n", gray("type"), ev.Type)
		if ev.EnableReminder {
			fmt.Fprintf(w, "    %s %d min before\n", gray("remind"), ev.ReminderMinutes)
		}
		if ev.Description != "" && ev.Description != ev.Title {
			fmt.Fprintf(w, "    %s %s\n", gray("from"), ev.Description)
		}
	}
}

func priorityTag(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return red("[high]")
	case model.PriorityMedium:
		return yellow("[medium]")
	default:
		return gray("[low]")
	}
}
