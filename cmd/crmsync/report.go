package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crmsync/internal/app"
	"crmsync/internal/pdf"
	"crmsync/internal/services"
)

var reportOwner string

var reportCmd = &cobra.Command{
	Use:   "report <pipeline-id>",
	Short: "Write the PDF report of a pipeline under files.root_dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelineID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid pipeline id: %w", err)
		}
		owner, err := uuid.Parse(reportOwner)
		if err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		ctx, stop := signalContext()
		defer stop()

		store, err := app.OpenStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		sess := services.NewSession(owner)
		stages := services.NewStageService(store, nil, nil, logger)
		pipelines := services.NewPipelineService(store, stages, nil, logger)
		deals := services.NewDealService(store, nil, nil, logger)

		p, err := pipelines.Get(ctx, sess, pipelineID)
		if err != nil {
			return err
		}
		stageList, err := stages.List(ctx, sess, &p.ID)
		if err != nil {
			return err
		}
		dealList, err := deals.List(ctx, sess, &p.ID)
		if err != nil {
			return err
		}
		gen := pdf.NewReportGenerator(cfg.Files.RootDir, cfg.Files.FontPath)
		path, err := gen.SaveReport(pdf.ReportData{Pipeline: p, Stages: stageList, Deals: dealList, GeneratedAt: time.Now()})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOwner, "owner", "", "owner id of the pipeline")
	_ = reportCmd.MarkFlagRequired("owner")
}
