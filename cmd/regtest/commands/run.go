package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/internal/scenario"
	"github.com/botcore/regtest/internal/supervisor"
	"github.com/botcore/regtest/libs/log"
	rtos "github.com/botcore/regtest/libs/os"
)

const (
	metricsAddrFlag = "metrics-addr"

	// Scrapers only; a handful of connections is plenty.
	maxMetricsConnections = 4
)

// MakeRunCommand returns the command running scenarios, all built-ins when
// none are named. Scenarios run one after another; the command fails if any
// of them fails.
func MakeRunCommand(conf *config.Config, logger *log.Logger) *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run regression scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := selectScenarios(args)
			if err != nil {
				return err
			}

			if addr, _ := cmd.Flags().GetString(metricsAddrFlag); addr != "" {
				conf.Instrumentation.Prometheus = true
				conf.Instrumentation.PrometheusListenAddr = addr
			}

			ctx, cancel := rtos.TrapSignal(cmd.Context(), *logger)
			defer cancel()

			metrics := scenario.NopMetrics()
			if conf.Instrumentation.Prometheus {
				metrics = scenario.PrometheusMetrics(conf.Instrumentation.Namespace)
				srv, err := startMetricsServer(conf.Instrumentation.PrometheusListenAddr, *logger)
				if err != nil {
					return err
				}
				defer func() {
					sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer scancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			var failed []string
			for _, sc := range scenarios {
				report, err := scenario.Run(ctx, conf, *logger, metrics, sc)
				printReport(cmd, sc, report, err)
				if err == nil {
					continue
				}
				failed = append(failed, sc.Name)
				if !keepGoing || ctx.Err() != nil {
					break
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d scenario(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}
	cmd.Flags().String(metricsAddrFlag, "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "run the remaining scenarios after a failure")
	return cmd
}

func selectScenarios(names []string) ([]*scenario.Scenario, error) {
	if len(names) == 0 {
		return scenario.Builtin(), nil
	}
	out := make([]*scenario.Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := scenario.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, sc)
	}
	return out, nil
}

func printReport(cmd *cobra.Command, sc *scenario.Scenario, report *scenario.Report, err error) {
	w := cmd.OutOrStdout()
	if report == nil {
		fmt.Fprintf(w, "FAIL %s: %v\n", sc.Name, err)
		return
	}
	for _, steps := range [][]scenario.StepResult{report.Phases, report.Cases} {
		for _, res := range steps {
			status := "ok"
			if res.Err != nil {
				status = "FAIL"
			}
			fmt.Fprintf(w, "  %-4s %-36s %v\n", status, res.Name, res.Duration.Round(time.Millisecond))
		}
	}
	if err != nil {
		fmt.Fprintf(w, "FAIL %s (%s) in %v: %v\n", sc.Name, report.RunID, report.Duration.Round(time.Millisecond), err)
		return
	}
	fmt.Fprintf(w, "ok   %s (%s) in %v\n", sc.Name, report.RunID, report.Duration.Round(time.Millisecond))
}

// startMetricsServer serves the default Prometheus registry on addr.
func startMetricsServer(addr string, logger log.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	ln = netutil.LimitListener(ln, maxMetricsConnections)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func dataDirs(conf *config.Config) []string {
	dirs := make([]string, 0, conf.Daemon.Peers+1)
	for i := 0; i < conf.Daemon.Peers; i++ {
		dirs = append(dirs, supervisor.PeerDataDir(conf.Daemon.DataDir, i))
	}
	return append(dirs, conf.Indexer.DataDir)
}
