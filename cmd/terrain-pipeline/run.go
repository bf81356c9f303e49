package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-terrain"
	"github.com/twpayne/go-terrain/pipeline"
)

func newRunCmd(o *options) *cobra.Command {
	var (
		demPath      string
		boundaryPath string
		polygonsPath string
		outputNames  []string
		outPath      string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and write the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load()
			if err != nil {
				return err
			}
			outputs, err := pipeline.ParseOutputSet(outputNames)
			if err != nil {
				return err
			}

			var extra []terrain.Placemark
			if polygonsPath != "" {
				data, err := os.ReadFile(polygonsPath)
				if err != nil {
					return err
				}
				if extra, err = terrain.ParsePlacemarks(data); err != nil {
					return err
				}
			}

			p, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}

			req := &pipeline.Request{
				DEMPath:      demPath,
				BoundaryPath: boundaryPath,
				Extra:        extra,
				Outputs:      outputs,
			}
			if outPath == "" {
				outPath = req.ArchiveName()
			}
			file, err := os.Create(outPath)
			if err != nil {
				return err
			}
			report, err := p.Run(cmd.Context(), req, file)
			if err != nil {
				return errors.Join(err, file.Close(), os.Remove(outPath))
			}
			if err := file.Close(); err != nil {
				return err
			}

			for _, stageReport := range report.Stages {
				switch stageReport.Status {
				case pipeline.StatusFailed:
					cmd.Printf("%-20s %-10s %s\n", stageReport.Stage, stageReport.Status, stageReport.Error)
				case pipeline.StatusSkipped:
					cmd.Printf("%-20s %-10s %s\n", stageReport.Stage, stageReport.Status, stageReport.Reason)
				default:
					cmd.Printf("%-20s %-10s %s\n", stageReport.Stage, stageReport.Status, stageReport.Duration)
				}
			}
			cmd.Printf("wrote %s (%d entries)\n", outPath, len(report.Entries))
			return nil
		},
	}
	runCmd.Flags().StringVar(&demPath, "dem", "", "DEM GeoTIFF")
	runCmd.Flags().StringVar(&boundaryPath, "boundary", "", "boundary file (KML, GeoJSON, zipped shapefile, or DXF)")
	runCmd.Flags().StringVar(&polygonsPath, "polygons", "", "GeoJSON file of extra polygons")
	runCmd.Flags().StringSliceVar(&outputNames, "output", nil, "outputs to produce")
	runCmd.Flags().StringVar(&outPath, "out", "", "output archive (default from boundary name)")
	_ = runCmd.MarkFlagRequired("dem")
	_ = runCmd.MarkFlagRequired("boundary")
	return runCmd
}
