package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Email an outfit snapshot through the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(imagePath) == "" {
				return errors.New("--image is required")
			}
			raw, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

			if err := ctx.client().SendOutfit(cmd.Context(), image); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Outfit sent")
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Path to a PNG snapshot")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the relay is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
