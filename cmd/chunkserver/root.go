// Copyright (c) 2024 chunkserver contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mooseish/chunkserver/internal/clog"
	"github.com/mooseish/chunkserver/internal/config"
	"github.com/mooseish/chunkserver/internal/engine"
)

var (
	flagMasterHost string
	flagMasterPort string
)

// rootCmd has no subcommands: loading config, building the engine and
// running it is all this binary does, matching the Non-goal boundary that
// keeps every actual protocol/storage decision in internal/.
var rootCmd = &cobra.Command{
	Use:   "chunkserver",
	Short: "runs one chunkserver process",
	RunE:  runChunkserver,
}

func init() {
	rootCmd.Flags().StringVar(&flagMasterHost, "master-host", "", "override MASTER_HOST")
	rootCmd.Flags().StringVar(&flagMasterPort, "master-port", "", "override MASTER_PORT")
}

func runChunkserver(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "chunkserver: loading config")
	}
	if flagMasterHost != "" {
		cfg.MasterHost = flagMasterHost
	}
	if flagMasterPort != "" {
		cfg.MasterPort = flagMasterPort
	}

	level, err := clog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "chunkserver: parsing LOG_LEVEL")
	}
	if err := clog.Configure(level, cfg.LogFile, 0); err != nil {
		return errors.Wrap(err, "chunkserver: configuring logging")
	}

	srv := engine.New(cfg, unimplementedStore{}, unimplementedReplicator{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		clog.Logf(clog.LogInfo, "chunkserver: shutdown signal received")
		cancel()
	}()

	return srv.Run(ctx)
}
