/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opencampus/dataplane/admin"
	"github.com/opencampus/dataplane/config"
	"github.com/opencampus/dataplane/database"
	"github.com/opencampus/dataplane/logging"
	"github.com/opencampus/dataplane/routing"
	"github.com/opencampus/dataplane/telemetry"
)

var log = logging.GetLogger("main")

func main() {
	var configFile = flag.String("config", "", "configuration file (defaults to the standard locations)")
	flag.Parse()

	var cnf *config.Config
	var err error
	if *configFile != "" {
		cnf, err = config.LoadFile(*configFile)
	} else {
		cnf, err = config.Load()
	}
	if err != nil {
		fmt.Printf("load configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := telemetry.Start(ctx); err != nil {
		log.Warnf("telemetry start failed: %v", err)
	}
	defer telemetry.Shutdown()

	router := routing.NewRouter(cnf.Router)
	err = router.Initialize(ctx)
	cancel()
	if err != nil {
		log.Errorf("router initialization failed: %v", err)
		os.Exit(1)
	}

	registry := database.NewRegistry()
	adminSrv := admin.NewServer(cnf.Admin, router, registry)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGPIPE,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			sig := <-sc
			if sig == syscall.SIGINT || sig == syscall.SIGTERM || sig == syscall.SIGQUIT {
				log.Infof("got signal %d, quit", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = adminSrv.Shutdown(shutdownCtx)
				cancel()
				_ = router.Close()
				break
			} else if sig == syscall.SIGPIPE {
				log.Infof("ignore broken pipe signal")
			}
		}
	}()
	if err := adminSrv.Start(); err != nil {
		log.Errorf("admin server: %v", err)
	}
	wg.Wait()
}
