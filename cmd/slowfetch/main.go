/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Command slowfetch downloads a URL the way a client behind a slow network would.
//
//	slowfetch --bandwidth 56000 -o file.bin https://example.com/file.bin
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/acronis/go-slowclient/httpclient"
	"github.com/acronis/go-slowclient/internal/fetch"
	"github.com/acronis/go-slowclient/internal/libinfo"
	"github.com/acronis/go-slowclient/log"
)

const requestType = "slowfetch"

func main() {
	app := cli.NewApp()
	app.Name = "slowfetch"
	app.Usage = "download a URL as a slow client"
	app.ArgsUsage = "<url>"
	app.Version = libinfo.GetLibVersion()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to a YAML or JSON (.json) config file, " + fetch.EnvVarsPrefix + "_* env vars override it",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "file to write the body to, stdout by default",
		},
		cli.Float64Flag{
			Name:  "bandwidth, b",
			Usage: "target bandwidth in bits per second, enables pacing and overrides the config",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("exactly one URL is expected", 2)
	}
	url := c.Args().First()

	cfg, err := fetch.LoadAppConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("bandwidth") {
		cfg.HTTPClient.SlowClient.Enabled = true
		cfg.HTTPClient.SlowClient.TargetBandwidth = c.Float64("bandwidth")
	}

	outPath := c.String("output")
	if outPath == "" && cfg.Log.Output == log.OutputStdout {
		// The body goes to stdout.
		cfg.Log.Output = log.OutputStderr
	}
	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	client, err := httpclient.NewWithOpts(cfg.HTTPClient, httpclient.Opts{Logger: logger, RequestType: requestType})
	if err != nil {
		return fmt.Errorf("create http client: %w", err)
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, createErr := os.Create(outPath)
		if createErr != nil {
			return fmt.Errorf("create output file: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				logger.Error("failed to close output file", log.Error(closeErr))
			}
		}()
		out = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := fetch.NewFetcher(client, cfg.Fetch, logger).Fetch(ctx, url, out)
	if err != nil {
		return err
	}

	var target float64
	if cfg.HTTPClient.SlowClient.Enabled {
		target = cfg.HTTPClient.SlowClient.TargetBandwidth
	}
	_, _ = fmt.Fprintln(os.Stderr, res.Report(target))
	return nil
}
