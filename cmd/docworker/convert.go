package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docpipe/internal/job"
	"docpipe/internal/render"
	"docpipe/internal/worker"
)

func markdownToPDFCmd() *cobra.Command {
	var input, output string
	var useCoordinates bool
	cmd := &cobra.Command{
		Use:   worker.CmdMarkdownToPDF,
		Short: "Render a markdown file as PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := os.ReadFile(input)
			if err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Message: "Rendering " + filepath.Base(output)})
			if err := render.MarkdownToPDF(string(md), output, useCoordinates); err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Percent: 100, Message: "Rendered " + filepath.Base(output)})
			slog.Info("Rendered markdown", "input", input, "output", output, "coordinates", useCoordinates)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "markdown file")
	cmd.Flags().StringVar(&output, "output", "", "PDF to write")
	cmd.Flags().BoolVar(&useCoordinates, "use-coordinates", false, "place located blocks at their source position")
	requireFlags(cmd, "input", "output")
	return cmd
}

func splitReorderCmd() *cobra.Command {
	var input, output, pages string
	cmd := &cobra.Command{
		Use:   worker.CmdSplitReorder,
		Short: "Write selected pages of a PDF in a new order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := job.ParsePageOrder(pages)
			if err != nil {
				return err
			}
			if err := render.SplitReorder(input, output, order); err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Current: len(order), Total: len(order), Message: fmt.Sprintf("Wrote %d page(s)", len(order))})
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "PDF to read")
	cmd.Flags().StringVar(&output, "output", "", "PDF to write")
	cmd.Flags().StringVar(&pages, "pages", "", "comma-separated 1-based page order, e.g. 3,1,2")
	requireFlags(cmd, "input", "output", "pages")
	return cmd
}

func mergePDFsCmd() *cobra.Command {
	var inputs []string
	var output string
	cmd := &cobra.Command{
		Use:   worker.CmdMergePDFs,
		Short: "Concatenate PDFs in the order given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := render.MergePDFs(inputs, output); err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Current: len(inputs), Total: len(inputs), Message: fmt.Sprintf("Merged %d document(s)", len(inputs))})
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "PDF to append (repeatable)")
	cmd.Flags().StringVar(&output, "output", "", "PDF to write")
	requireFlags(cmd, "input", "output")
	return cmd
}

func imagesToPDFCmd() *cobra.Command {
	var inputs []string
	var output string
	cmd := &cobra.Command{
		Use:   worker.CmdImagesToPDF,
		Short: "Place each image on its own PDF page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := render.ImagesToPDF(inputs, output); err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Current: len(inputs), Total: len(inputs), Message: fmt.Sprintf("Added %d image(s)", len(inputs))})
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "image to add (repeatable)")
	cmd.Flags().StringVar(&output, "output", "", "PDF to write")
	requireFlags(cmd, "input", "output")
	return cmd
}

func convertImageCmd() *cobra.Command {
	var input, output, format string
	cmd := &cobra.Command{
		Use:   worker.CmdConvertImage,
		Short: "Re-encode an image as PNG or JPEG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := render.ConvertImage(input, output, format); err != nil {
				return err
			}
			reportProgress(cmd.OutOrStdout(), worker.Update{Percent: 100, Message: "Converted " + filepath.Base(input)})
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "image to read")
	cmd.Flags().StringVar(&output, "output", "", "image to write")
	cmd.Flags().StringVar(&format, "format", "png", "output format: png|jpeg")
	requireFlags(cmd, "input", "output")
	return cmd
}
