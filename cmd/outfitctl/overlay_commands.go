package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newOverlayCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overlay",
		Short: "Inspect or change the stream overlay outfit",
	}
	cmd.AddCommand(newOverlayGetCommand(ctx))
	cmd.AddCommand(newOverlaySetCommand(ctx))
	cmd.AddCommand(newOverlayClearCommand(ctx))
	return cmd
}

func newOverlayGetCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the current overlay outfit",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := ctx.client().GetOverlay(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if state.Empty() {
				fmt.Fprintln(out, "No outfit set")
				return nil
			}
			if asJSON {
				fmt.Fprintln(out, string(state.Outfit))
				return nil
			}
			fmt.Fprintln(out, renderOutfit(state.Outfit))
			if state.UpdatedAt != nil {
				fmt.Fprintf(out, "Updated %s\n", state.UpdatedAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw outfit JSON")
	return cmd
}

func newOverlaySetCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the overlay outfit with a JSON document",
		Long:  "Replace the overlay outfit. The document is read from --file, or stdin when --file is \"-\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			var (
				raw []byte
				err error
			)
			if file == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read outfit: %w", err)
			}
			if !json.Valid(raw) {
				return errors.New("outfit is not valid JSON")
			}

			if err := ctx.client().SetOverlay(cmd.Context(), raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Overlay updated")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the outfit JSON, or - for stdin")
	return cmd
}

func newOverlayClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the overlay outfit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().ClearOverlay(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Overlay cleared")
			return nil
		},
	}
}

// renderOutfit prints a category table for object payloads and falls back to
// the raw JSON for anything else.
func renderOutfit(payload json.RawMessage) string {
	var outfit map[string]interface{}
	if err := json.Unmarshal(payload, &outfit); err != nil {
		return string(payload)
	}

	categories := make([]string, 0, len(outfit))
	for category := range outfit {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	rows := make([][]string, 0, len(categories))
	for _, category := range categories {
		rows = append(rows, []string{category, formatItem(outfit[category])})
	}
	return renderTable([]string{"Category", "Item"}, rows)
}

func formatItem(v interface{}) string {
	switch item := v.(type) {
	case nil:
		return "-"
	case string:
		return item
	case []interface{}:
		parts := make([]string, 0, len(item))
		for _, p := range item {
			parts = append(parts, formatItem(p))
		}
		return strings.Join(parts, ", ")
	default:
		raw, _ := json.Marshal(item)
		return string(raw)
	}
}
