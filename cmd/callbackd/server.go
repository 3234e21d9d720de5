package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/HsinTsao/sec-toolkit/internal/auth"
	"github.com/HsinTsao/sec-toolkit/internal/capture"
	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/registry"
	"github.com/HsinTsao/sec-toolkit/internal/rules"
	"github.com/HsinTsao/sec-toolkit/internal/server"
)

var serverFlags struct {
	httpPort int
	apiPort  int
	dnsPort  int
	noDNS    bool
	domain   string
	publicIP string
	dbPath   string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the capture, API, and DNS listeners",
	Long: `Start the callbackd server.

The capture listener records every request to /c/<token>... and serves
PoC rule responses. The API listener carries the authenticated
management REST API plus /health and /metrics. The DNS listener records
queries for <token>.<domain>.

Ports 80 and 53 require root or 'setcap cap_net_bind_service'.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVar(&serverFlags.httpPort, "http-port", getEnvInt("CALLBACKD_HTTP_PORT", 80), "capture HTTP port")
	serverCmd.Flags().IntVar(&serverFlags.apiPort, "api-port", getEnvInt("CALLBACKD_API_PORT", 8081), "management API port")
	serverCmd.Flags().IntVar(&serverFlags.dnsPort, "dns-port", getEnvInt("CALLBACKD_DNS_PORT", 53), "DNS port (53 requires root)")
	serverCmd.Flags().BoolVar(&serverFlags.noDNS, "no-dns", false, "disable the DNS listener")
	serverCmd.Flags().StringVar(&serverFlags.domain, "domain", getEnv("CALLBACKD_DOMAIN", "localhost"), "domain for token extraction")
	serverCmd.Flags().StringVar(&serverFlags.publicIP, "public-ip", getEnv("CALLBACKD_PUBLIC_IP", ""), "public IP for DNS A answers")
	serverCmd.Flags().StringVar(&serverFlags.dbPath, "db", getEnv("CALLBACKD_DB", "callbackd.db"), "database path")
}

func runServer(cmd *cobra.Command, args []string) error {
	database, err := db.Open(serverFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	count, err := db.CountAPIKeys(database)
	if err != nil {
		return fmt.Errorf("count API keys: %w", err)
	}
	if count == 0 {
		displayKey, prefix, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generate API key: %w", err)
		}
		if _, err := db.CreateAPIKey(database, prefix, hash); err != nil {
			return fmt.Errorf("create API key: %w", err)
		}
		fmt.Println("=============================================================")
		fmt.Println("API KEY CREATED (save this, it will not be shown again):")
		fmt.Println(displayKey)
		fmt.Println("=============================================================")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := registry.New(database, logger.Named("registry"))
	recorder := capture.NewRecorder(database, m, logger.Named("capture"))
	engine := rules.NewEngine(database, m, logger.Named("rules"))

	captureSrv := server.NewManagedServer("capture server", server.DefaultServerConfig(
		fmt.Sprintf(":%d", serverFlags.httpPort),
		&server.HTTPServer{
			Registry: reg,
			Recorder: recorder,
			Engine:   engine,
			Metrics:  m,
			Domain:   serverFlags.domain,
			Logger:   logger.Named("http"),
		},
		logger.Named("http"),
	))
	logger.Info("starting capture server", logging.Port(serverFlags.httpPort))
	captureSrv.Start()
	if err := captureSrv.WaitForStartup(100 * time.Millisecond); err != nil {
		return err
	}

	apiSrv := server.NewManagedServer("api server", server.DefaultServerConfig(
		fmt.Sprintf(":%d", serverFlags.apiPort),
		(&server.APIServer{
			DB:         database,
			Registry:   reg,
			Logger:     logger.Named("api"),
			Gatherer:   promReg,
			PathPrefix: "/c/",
		}).Handler(),
		logger.Named("api"),
	))
	logger.Info("starting api server", logging.Port(serverFlags.apiPort))
	apiSrv.Start()
	if err := apiSrv.WaitForStartup(100 * time.Millisecond); err != nil {
		return err
	}

	var dnsSrv *server.DNSServer
	if !serverFlags.noDNS {
		dnsSrv = &server.DNSServer{
			Registry: reg,
			Recorder: recorder,
			Domain:   serverFlags.domain,
			PublicIP: serverFlags.publicIP,
			Logger:   logger.Named("dns"),
		}
		if err := dnsSrv.Start(serverFlags.dnsPort, serverFlags.dnsPort); err != nil {
			return fmt.Errorf("start DNS server: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	captureSrv.Shutdown(ctx)
	apiSrv.Shutdown(ctx)
	if dnsSrv != nil {
		dnsSrv.Shutdown(ctx)
	}

	return nil
}
