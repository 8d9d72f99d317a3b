/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// cxl-se emulates the management plane of a CXL 2.0 switch: it loads a
// switch model from YAML, then answers Fabric Management API and emulator
// control commands over an MCTP-over-TCP transport until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/cxl-se/pkg/ec"
	fabric "github.com/NearNodeFlash/cxl-se/pkg/manager-fabric"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

const (
	defaultNumPorts = 32
	defaultNumVCSs  = 32
	defaultNumVPPBs = 256

	// localEID is the switch's MCTP endpoint ID.
	localEID = 0x10
)

var cli struct {
	Config     string `kong:"optional,help='YAML switch configuration file.'"`
	Port       uint16 `kong:"optional,default='2508',help='TCP port to listen on for the Fabric Manager.'"`
	Address    string `kong:"optional,default='0.0.0.0',help='TCP address to listen on.'"`
	HttpPort   int    `kong:"optional,name='http-port',default='0',help='Debug HTTP port. Zero disables the debug API.'"`
	Dir        string `kong:"optional,help='Directory for memory mapped backing files.'"`
	PrintState bool   `kong:"optional,name='print-state',help='Print the switch state after loading.'"`
	Verbose    int    `kong:"optional,type='counter',short='v',help='Increase log verbosity.'"`
}

func main() {
	c := kong.Parse(&cli)

	setupLogging()

	// The model starts from built-in defaults; the configuration overlays
	// identity, the device catalog, ports and VCSs.
	s := fabric.NewSwitch(defaultNumPorts, defaultNumVCSs, defaultNumVPPBs)
	defer s.Close()

	if cli.Dir != "" {
		s.Dir = cli.Dir
	}

	port := cli.Port

	if cli.Config != "" {
		cfg, err := fabric.LoadConfig(cli.Config)
		if err != nil {
			c.FatalIfErrorf(err)
		}

		if err := s.ApplyConfig(cfg); err != nil {
			c.FatalIfErrorf(err)
		}

		// The command line wins over the configured port.
		if cfg.Emulator.TCPPort != nil && cli.Port == 2508 {
			port = *cfg.Emulator.TCPPort
		}

		// Any configured verbosity mask raises logging to debug unless the
		// command line already chose a level.
		if cli.Verbose == 0 && cfg.Emulator.VerbosityHex != "" && cfg.Emulator.VerbosityHex != "0x0" {
			log.SetLevel(log.DebugLevel)
		}
	}

	if cli.PrintState {
		s.Print(os.Stdout)
		s.PrintDevices(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cli.HttpPort != 0 {
		controller := &ec.Controller{
			Name:    "CXL Switch Emulator",
			Port:    cli.HttpPort,
			Routers: ec.Routers{fabric.NewDefaultApiRouter(s)},
		}

		if err := controller.Init(&ec.Options{Http: true, Log: true, Verbose: cli.Verbose > 0}); err != nil {
			c.FatalIfErrorf(err)
		}
		defer controller.Close()

		go func() {
			if err := controller.Run(); err != nil {
				log.WithError(err).Error("Debug API failed")
			}
		}()
	}

	t := mctp.New(localEID)
	t.SetHandler(mctp.TypeCXLFMAPI, s.FMAPIHandler)
	t.SetHandler(mctp.TypeCSE, s.EMAPIHandler)

	if err := t.Serve(ctx, cli.Address, port); err != nil {
		log.WithError(err).Fatal("Transport failed")
	}

	log.Info("Shutting down")
}

func setupLogging() {
	switch {
	case cli.Verbose >= 2:
		log.SetLevel(log.TraceLevel)
	case cli.Verbose == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		ForceColors:   isatty.IsTerminal(os.Stderr.Fd()),
	})
}
