package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/modelserver"
)

// DoctorEngine is one engine's local diagnosis.
type DoctorEngine struct {
	Engine       string   `json:"engine" yaml:"engine"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Endpoint     string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Reachable    bool     `json:"reachable" yaml:"reachable"`
	Installed    bool     `json:"installed" yaml:"installed"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
	Accelerators []string `json:"accelerators,omitempty" yaml:"accelerators,omitempty"`
	Error        string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// DoctorReport is the output of snappify doctor.
type DoctorReport struct {
	Device  string         `json:"device" yaml:"device"`
	Engines []DoctorEngine `json:"engines" yaml:"engines"`
}

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check engine model servers without starting the service",
	Long: `Check every configured engine's model server directly.

Reports whether each server answers, whether its OCR library is installed
and which accelerators it sees, then the device the service would pick.
No models are loaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		cfgMgr, err := loadConfig(h)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()
		ctx := cmd.Context()

		report := DoctorReport{Device: string(engines.DeviceCPU)}
		var clients []*modelserver.Client

		for _, name := range engines.DispatchOrder() {
			ec, ok := cfg.GetEngine(name)
			entry := DoctorEngine{Engine: string(name), Enabled: ok && ec.Enabled}
			if !entry.Enabled {
				report.Engines = append(report.Engines, entry)
				continue
			}
			entry.Endpoint = ec.Endpoint

			client := modelserver.NewClient(ec.Endpoint, doctorTimeout)
			clients = append(clients, client)

			info, err := client.Health(ctx)
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Reachable = true
				entry.Installed = info.Installed
				entry.Version = info.Version
				entry.Accelerators = info.Accelerators
			}
			report.Engines = append(report.Engines, entry)
		}

		if !cfg.Device.ForceCPU && len(clients) > 0 {
			if gpu, err := (modelserver.HealthProber{Clients: clients}).ProbeAccelerator(ctx); err == nil && gpu {
				report.Device = string(engines.DeviceCUDA)
			}
		}
		return api.Output(report)
	},
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 5*time.Second, "Per-server request timeout")
	rootCmd.AddCommand(doctorCmd)
}
