package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fpagent/internal/logger"
	"fpagent/internal/metrics"
	"fpagent/internal/version"
	"fpagent/pkg/fingerprint"
)

type getFlags struct {
	token            string
	region           string
	endpoint         string
	tlsEndpoint      string
	disableTLS       bool
	extended         bool
	ipResolution     string
	linkedID         string
	tag              string
	timeout          time.Duration
	debug            bool
	remoteDebugToken string
	userAgent        string
	origin           string
	metricsTextfile  string
}

type getOutput struct {
	Shape  string `json:"shape"`
	Result any    `json:"result"`
}

func newGetCmd() *cobra.Command {
	f := getFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Identify this client and print the result",
		Long: `Load an agent, run one identification and print the result as JSON.

Flags default to FP_TOKEN, FP_REGION and FP_ENDPOINT from the environment.
The result shape follows --extended and --ip-resolution:
  base            requestId, visitorId, visitorFound, confidence
  extended        + browser, os, device, ip and city-level ipLocation
  fullIpExtended  + ipLocation.organization`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.token, "token", os.Getenv("FP_TOKEN"), "public API token")
	fl.StringVar(&f.region, "region", envOr("FP_REGION", string(fingerprint.RegionUS)), "API region (us|eu)")
	fl.StringVar(&f.endpoint, "endpoint", os.Getenv("FP_ENDPOINT"), "API endpoint, overrides --region")
	fl.StringVar(&f.tlsEndpoint, "tls-endpoint", os.Getenv("FP_TLS_ENDPOINT"), "TLS endpoint (default {endpoint}/tls)")
	fl.BoolVar(&f.disableTLS, "disable-tls", false, "skip the TLS request")
	fl.BoolVar(&f.extended, "extended", false, "request the extended result")
	fl.StringVar(&f.ipResolution, "ip-resolution", string(fingerprint.IPResolutionCity), "IP resolution for extended results (city|full)")
	fl.StringVar(&f.linkedID, "linked-id", "", "linked id passed through to webhooks")
	fl.StringVar(&f.tag, "tag", "", "tag as a JSON value, passed through to webhooks")
	fl.DurationVar(&f.timeout, "timeout", fingerprint.DefaultTimeout, "total identification timeout")
	fl.BoolVar(&f.debug, "debug", false, "log agent debug events and print a report to stderr")
	fl.StringVar(&f.remoteDebugToken, "remote-debug-token", os.Getenv("FP_REMOTE_DEBUG_TOKEN"), "upload debug reports with this token")
	fl.StringVar(&f.userAgent, "user-agent", "fpctl/"+version.Version, "User-Agent sent with the request")
	fl.StringVar(&f.origin, "origin", "", "Origin header sent with the request")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", os.Getenv("FP_METRICS_TEXTFILE"), "write debug event counters to this file in Prometheus text format")
	return cmd
}

func runGet(cmd *cobra.Command, f getFlags) error {
	var tag any
	if f.tag != "" {
		if err := json.Unmarshal([]byte(f.tag), &tag); err != nil {
			return fmt.Errorf("invalid --tag: %w", err)
		}
	}
	debug, flush, err := debugOutput(cmd, f)
	if err != nil {
		return err
	}
	defer flush()
	if f.metricsTextfile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(f.metricsTextfile); werr != nil {
				logger.L().Warn("metrics_textfile_error", "path", f.metricsTextfile, "err", werr)
			}
		}()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	agent, err := fingerprint.Load(ctx, fingerprint.LoadOptions{
		Token:       f.token,
		Region:      fingerprint.Region(f.region),
		Endpoint:    f.endpoint,
		TLSEndpoint: f.tlsEndpoint,
		DisableTLS:  f.disableTLS,
		Debug:       debug,
		UserAgent:   f.userAgent,
		Origin:      f.origin,
		Logger:      logger.L(),
	})
	if err != nil {
		return err
	}
	res, err := agent.Get(ctx, fingerprint.GetOptions{
		Timeout:        f.timeout,
		Tag:            tag,
		LinkedID:       f.linkedID,
		ExtendedResult: f.extended,
		IPResolution:   fingerprint.IPResolution(f.ipResolution),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(getOutput{Shape: res.Shape.String(), Result: res.Payload()})
}

// debugOutput：按参数组合调试输出；flush 提交未结束的报告
func debugOutput(cmd *cobra.Command, f getFlags) (fingerprint.DebugOutput, func(), error) {
	var outs []fingerprint.DebugOutput
	var builders []*fingerprint.DebugReportBuilder
	if f.debug {
		lg := logger.New(cmd.ErrOrStderr(), slog.LevelDebug, os.Getenv("LOG_FORMAT"))
		outs = append(outs, fingerprint.MakeConsoleDebugger("fpctl", lg))
		b := fingerprint.NewDebugReportBuilder(func(r fingerprint.DebugReport) error {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "debug report: %d events\n", len(r.Events))
			for _, e := range r.Events {
				fmt.Fprintf(w, "  +%4dms %s\n", e.At.Sub(r.StartedAt).Milliseconds(), e.Name)
			}
			return nil
		}, 0)
		builders = append(builders, b)
		outs = append(outs, b.Output())
	}
	if f.metricsTextfile != "" {
		outs = append(outs, metrics.DebugOutput())
	}
	if f.remoteDebugToken != "" {
		remote, err := fingerprint.MakeRemoteDebugger(fingerprint.RemoteOptions{
			ClientID: "fpctl",
			Token:    f.remoteDebugToken,
			Endpoint: os.Getenv("FP_REMOTE_DEBUG_ENDPOINT"),
		})
		if err != nil {
			return nil, nil, err
		}
		outs = append(outs, remote)
	}
	flush := func() {
		for _, b := range builders {
			_ = b.Flush()
		}
	}
	if len(outs) == 0 {
		return nil, flush, nil
	}
	return fingerprint.MakeMulticastDebugger(outs...), flush, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
