package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulnverified/blindspot/internal/api"
	"github.com/vulnverified/blindspot/internal/config"
	"github.com/vulnverified/blindspot/internal/domainlist"
	"github.com/vulnverified/blindspot/internal/engine"
	"github.com/vulnverified/blindspot/internal/observability"
	"github.com/vulnverified/blindspot/internal/output"
	"github.com/vulnverified/blindspot/internal/recon"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	output.Version = version

	rootCmd := &cobra.Command{
		Use:   "blindspot",
		Short: "Find blind-SSRF candidates in your domain inventory",
		Long:  "Probes domains for direct reachability, resolves the dark ones over DNS, and classifies them as internal or external SSRF candidates.",
	}
	rootCmd.AddCommand(newScanCmd(), newServeCmd())

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("blindspot {{.Version}}\n")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newScanCmd() *cobra.Command {
	var (
		listFile    string
		jsonOutput  bool
		exportList  string
		protocol    bool
		timeout     time.Duration
		concurrency int
		noColor     bool
		silent      bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "scan [domains...]",
		Short: "Run a one-shot scan over a domain list",
		RunE: func(cmd *cobra.Command, args []string) error {
			domains := append([]string{}, args...)
			if listFile != "" {
				fromFile, err := domainlist.FromFile(listFile)
				if err != nil {
					return fmt.Errorf("loading domains: %w", err)
				}
				domains = append(domains, fromFile...)
			}
			if len(domains) == 0 {
				return fmt.Errorf("no domains given (pass them as arguments or via --list)")
			}

			switch exportList {
			case "", "internal", "external", "combined":
			default:
				return fmt.Errorf("invalid --export %q (want internal, external or combined)", exportList)
			}

			// Respect NO_COLOR env var.
			if _, ok := os.LookupEnv("NO_COLOR"); ok {
				noColor = true
			}

			userAgent := fmt.Sprintf("blindspot/%s (+https://github.com/vulnverified/blindspot)", version)
			prober, resolver, classifier := recon.Collaborators(userAgent)

			orch := engine.New(engine.Config{
				Prober:     prober,
				Resolver:   resolver,
				Classifier: classifier,
			})
			defer orch.Close()

			machineOutput := jsonOutput || exportList != ""
			showProgress := !machineOutput && !silent
			progress := output.NewProgress(os.Stderr, verbose, !showProgress)

			if showProgress {
				output.WriteHeader(os.Stderr, noColor)
			}

			done := make(chan engine.Results, 1)
			id, err := orch.StartScan(domains, engine.Options{
				Timeout:     timeout,
				Concurrency: concurrency,
				OnProgress:  progress.Update,
				OnComplete:  func(res engine.Results) { done <- res },
			})
			if err != nil {
				return err
			}

			// Ctrl+C cancels the scan; partial results are still reported.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				if _, ok := <-sigCh; !ok {
					return
				}
				fmt.Fprintln(os.Stderr, "\nInterrupted, collecting partial results...")
				orch.CancelScan(id)
			}()

			res := <-done

			if showProgress {
				progress.Complete()
			}

			if jsonOutput {
				return output.WriteJSON(os.Stdout, res)
			}
			if exportList != "" {
				var hosts []string
				switch exportList {
				case "internal":
					hosts = res.InternalDomains()
				case "external":
					hosts = res.ExternalDomains()
				case "combined":
					hosts = res.Combined()
				}
				fmt.Fprintln(os.Stdout, output.ExportHosts(hosts, protocol))
				return nil
			}

			output.WriteTable(os.Stdout, res, noColor)
			output.WriteSummary(os.Stdout, res, noColor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&listFile, "list", "l", "", "File with one domain per line (\"-\" for stdin)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output structured JSON to stdout")
	cmd.Flags().StringVar(&exportList, "export", "", "Print a plain host list instead of the table (internal, external or combined)")
	cmd.Flags().BoolVar(&protocol, "protocol", false, "Prefix exported hosts with https:// and http:// variants")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-domain probe timeout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Max domains probed at once")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable terminal colors")
	cmd.Flags().BoolVar(&silent, "silent", false, "Results only, no progress")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show in-flight domains during the scan")

	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			log, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync()

			userAgent := cfg.Scan.UserAgent
			if userAgent == "" {
				userAgent = fmt.Sprintf("blindspot/%s (+https://github.com/vulnverified/blindspot)", version)
			}
			prober, resolver, classifier := recon.Collaborators(userAgent)

			orch := engine.New(engine.Config{
				Prober:          prober,
				Resolver:        resolver,
				Classifier:      classifier,
				Logger:          log,
				RetainCompleted: cfg.Retention.TTL,
				SweepInterval:   cfg.Retention.SweepInterval,
			})
			defer orch.Close()

			srv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: api.NewServer(orch, cfg.Scan, log).Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", zap.String("addr", cfg.Server.Addr))
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Info("shutting down", zap.Stringer("signal", sig))
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}
