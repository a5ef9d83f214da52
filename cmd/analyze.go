package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/salestack/dealsense/config"
	"github.com/salestack/dealsense/internal/analyst"
	"github.com/salestack/dealsense/internal/analyst/telemetry"
	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/scoring"
	"github.com/salestack/dealsense/internal/store"
	"github.com/salestack/dealsense/models"
	"github.com/salestack/dealsense/provider"
)

// analyzeCMD runs a single analysis of a deal snapshot from a JSON file,
// printing the result to stdout. With --in-memory the run uses throwaway
// stores; otherwise it reads and writes the configured Postgres memory.
func analyzeCMD() *cobra.Command {
	var cfgPath string
	var inMemory bool

	var analyze = &cobra.Command{
		Use:   "analyze <snapshot.json>",
		Short: "Run a one-shot deal analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var snapshot models.DealSnapshot
			if err := json.Unmarshal(raw, &snapshot); err != nil {
				return fmt.Errorf("parsing snapshot: %w", err)
			}
			if snapshot.LastUpdatedAt.IsZero() {
				snapshot.LastUpdatedAt = time.Now()
			}

			ctx := cmd.Context()
			var mem *memory.Memory
			if inMemory {
				mem = memory.NewInMemory(cfg.Memory.Episodic.Capacity)
			} else {
				st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
				if err != nil {
					return err
				}
				st.EpisodicCapacity = cfg.Memory.Episodic.Capacity
				defer st.DB.Close()
				mem = memory.NewSQL(st)
			}

			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			defer tele.Shutdown()
			scorer, err := scoring.NewAgent(cfg, llm, tele)
			if err != nil {
				return err
			}

			loop := analyst.NewLoop(cfg, mem, scorer, tele)
			result, err := loop.AnalyzeDeal(ctx, snapshot)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	analyze.Flags().BoolVar(&inMemory, "in-memory", false, "use throwaway in-process memory stores")
	analyze.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return analyze
}
