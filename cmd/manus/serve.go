package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Gokhulnath/Manus/internal/agent"
	"github.com/Gokhulnath/Manus/internal/db"
	"github.com/Gokhulnath/Manus/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		dataRoom   string
		noAgent    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development message store and agent",
		Long:  "Starts the HTTP message API backed by SQLite or MySQL, serves the data room, and runs the agent that answers pending user messages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("data-room") {
				cfg.Server.DataRoom = dataRoom
			}

			gormDB, err := db.Connect(cfg.Server)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Server.DataRoom); err != nil {
				log.WithError(err).WithField("data_room", cfg.Server.DataRoom).Warn("data room is not readable; searches will fail")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics := server.NewMetrics(gormDB)
			var wg sync.WaitGroup
			if !noAgent {
				w, err := agent.NewWorker(agent.WorkerOpts{
					DB:          gormDB,
					DataRoom:    cfg.Server.DataRoom,
					Delay:       cfg.Server.AgentDelay,
					Log:         log,
					OnProcessed: metrics.ObserveTurn,
				})
				if err != nil {
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.Run(ctx)
				}()
			}

			err = server.Start(ctx, server.StartOpts{
				Opts: server.Opts{
					DB:          gormDB,
					DataRoom:    cfg.Server.DataRoom,
					CORSOrigins: cfg.Server.CORSOrigins,
					Metrics:     metrics,
					Log:         log,
				},
				Port: cfg.Server.Port,
				Out:  cmd.OutOrStdout(),
			})
			stop()
			wg.Wait()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().IntVar(&port, "port", server.DefaultPort, "port to listen on")
	cmd.Flags().StringVar(&dataRoom, "data-room", "", "directory of searchable documents")
	cmd.Flags().BoolVar(&noAgent, "no-agent", false, "serve the API without answering messages")
	return cmd
}
