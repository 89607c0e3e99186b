package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopylabs/cropclass/internal/export"
	"github.com/canopylabs/cropclass/internal/model"
	"github.com/canopylabs/cropclass/internal/publish"
)

var (
	exportFormat string
	exportOut    string
	exportFTPURL string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's results to csv, geojson, or pdf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := model.ParseExportFormat(exportFormat)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err := st.ListResults(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "list results for session %s", args[0])
		}

		renderer := export.NewRenderer(cfg.Export.FilenamePrefix, nil)
		artifact, err := renderer.Render(format, results)
		if err != nil {
			return err
		}

		if exportFTPURL != "" {
			pub := publish.NewFTPPublisher(publish.FTPOptions{})
			return pub.Upload(exportFTPURL, artifact.Filename, artifact.Bytes)
		}

		out := exportOut
		if out == "" {
			out = artifact.Filename
		} else if info, err := os.Stat(out); err == nil && info.IsDir() {
			out = filepath.Join(out, artifact.Filename)
		}

		if err := os.WriteFile(out, artifact.Bytes, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", out)
		}

		zap.L().Info("results exported",
			zap.String("session_id", args[0]),
			zap.String("format", string(format)),
			zap.String("path", out),
			zap.Int("results", len(results)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format (csv, geojson, pdf)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: generated filename)")
	exportCmd.Flags().StringVar(&exportFTPURL, "ftp", "", "publish to ftp://[user:pass@]host/dir instead of writing locally")
	rootCmd.AddCommand(exportCmd)
}
