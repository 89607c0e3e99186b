package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopylabs/cropclass/internal/classify"
	"github.com/canopylabs/cropclass/internal/model"
)

var (
	classifyLat float64
	classifyLng float64
	classifyGeo bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image>",
	Short: "Classify a single image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := buildPipeline(classify.FileSource{})
		if err != nil {
			return err
		}

		var coords *model.Coordinates
		if classifyGeo {
			coords = &model.Coordinates{Lat: classifyLat, Lng: classifyLng}
		}

		result, err := pipeline.Run(cmd.Context(), args[0], coords)
		if err != nil {
			return eris.Wrapf(err, "classify %s", args[0])
		}

		zap.L().Info("image classified",
			zap.String("image", args[0]),
			zap.String("label", string(result.Outcome.Label)),
			zap.Float64("confidence", result.Outcome.Confidence),
			zap.String("confidence_label", result.Level.Label))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyLat, "lat", 0, "plot latitude")
	classifyCmd.Flags().Float64Var(&classifyLng, "lng", 0, "plot longitude")
	classifyCmd.Flags().BoolVar(&classifyGeo, "geo", false, "attach --lat/--lng to the result")
	rootCmd.AddCommand(classifyCmd)
}
