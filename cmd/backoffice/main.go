// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command backoffice runs the Smartalk coaching back office.
//
// Usage:
//
//	backoffice serve
//	backoffice serve --config /etc/smartalk/backoffice.yaml
//	backoffice closeout
//
// Example requests once serving:
//
//	# Health check
//	curl http://localhost:8080/v1/health
//
//	# Log a coaching call
//	curl -X POST http://localhost:8080/v1/calls \
//	  -H "Content-Type: application/json" \
//	  -d '{"calls": [{"contract_id": "contract-...", "coach_id": "maria",
//	       "student_id": "student-1", "date": "2025-02-10", "units": 1}]}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/smartalk-online/backoffice/services/backoffice"
	"github.com/smartalk-online/backoffice/services/backoffice/telemetry"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "backoffice",
		Short: "The Smartalk coaching back office",
		Long: `Tracks coaching contracts and call usage, drives the report-card
cycle, and serves the back-office HTTP API.`,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the back-office HTTP API",
		RunE:  runServe,
	}
	closeoutCmd = &cobra.Command{
		Use:   "closeout",
		Short: "Send expired completed report cards and roll the reporting windows",
		Long: `Runs one close-out pass: refuses to run while any expired period still
has an unfinished card, otherwise marks the completed cards sent,
advances or deletes their generators, and prints the dispatch report
grouped by client.`,
		RunE: runCloseOut,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML config file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(closeoutCmd)
}

func newService() (*backoffice.Service, error) {
	cfg, err := backoffice.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return backoffice.NewService(cfg, prometheus.NewRegistry())
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, svc.TelemetryConfig())
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	return svc.Run(ctx)
}

func runCloseOut(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.CloseOut(cmd.Context())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
