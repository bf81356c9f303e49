package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-terrain/drawing"
)

func newMergeCmd(o *options) *cobra.Command {
	var targetPath, sourcePath, outPath string
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the source DXF drawing into the target DXF drawing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := o.load()
			if err != nil {
				return err
			}
			target, err := os.ReadFile(targetPath)
			if err != nil {
				return err
			}
			source, err := os.ReadFile(sourcePath)
			if err != nil {
				return err
			}
			merged, err := drawing.MergeDXF(target, source)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = targetPath
			}
			if err := os.WriteFile(outPath, merged, 0o666); err != nil {
				return err
			}
			logger.Info("merged", "target", targetPath, "source", sourcePath, "out", outPath)
			return nil
		},
	}
	mergeCmd.Flags().StringVar(&targetPath, "target", "", "target DXF")
	mergeCmd.Flags().StringVar(&sourcePath, "source", "", "source DXF")
	mergeCmd.Flags().StringVar(&outPath, "out", "", "merged DXF (default overwrite target)")
	_ = mergeCmd.MarkFlagRequired("target")
	_ = mergeCmd.MarkFlagRequired("source")
	return mergeCmd
}
