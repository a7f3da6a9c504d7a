/*
 Copyright © 2021-2026 Dell Inc. or its subsidiaries. All Rights Reserved.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dell/csi-remotecopy/v2/k8sutils"
	"github.com/dell/csi-remotecopy/v2/pkg/array"
	"github.com/dell/csi-remotecopy/v2/pkg/metrics"
	"github.com/dell/csi-remotecopy/v2/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
)

type flagSet struct {
	configPath              *string
	enableLeaderElection    *bool
	leaderElectionNamespace *string
	kubeconfig              *string
	metricsAddress          *string
	probeOnly               *bool
}

var (
	flags       flagSet
	defineFlags sync.Once

	initFlagsFunc        = initFlags
	driverRunFunc        = runDriver
	getKubeClientSetFunc = func(kubeconfig string) (kubernetes.Interface, error) {
		return k8sutils.CreateKubeClientSet(kubeconfig)
	}
	runWithLeaderElectionFunc = k8sutils.LeaderElection
	exitFunc                  = os.Exit
)

// main runs the replication driver until it loses leadership or fails
func main() {
	initFlagsFunc()
	if err := driverRun(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", service.Name, err)
		exitFunc(1)
	}
}

func initFlags() {
	defineFlags.Do(func() {
		flags.configPath = flag.String("config", "", "path of the driver configuration file")
		flags.enableLeaderElection = flag.Bool("leader-election", false, "boolean to enable leader election")
		flags.leaderElectionNamespace = flag.String("leader-election-namespace", "", "namespace where leader election lease will be created")
		flags.kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
		flags.metricsAddress = flag.String("metrics-address", "", "address the prometheus metrics are served on, disabled when empty")
		flags.probeOnly = flag.Bool("probe-only", false, "probe the configured clusters and exit")
	})
	flag.Parse()
}

func driverRun() error {
	if !*flags.enableLeaderElection {
		driverRunFunc(context.Background())
		return nil
	}
	driverName := strings.Replace(service.Name, ".", "-", -1)
	lockName := fmt.Sprintf("driver-%s", driverName)
	k8sclientset, err := getKubeClientSetFunc(*flags.kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to initialize leader election: %w", err)
	}
	// Attempt to become leader and start the driver
	return runWithLeaderElectionFunc(k8sclientset, lockName, *flags.leaderElectionNamespace, driverRunFunc)
}

func runDriver(ctx context.Context) {
	if err := serve(ctx); err != nil {
		log.Errorf("driver stopped: %s", err.Error())
		exitFunc(1)
	}
}

// serve builds the driver from its configuration and keeps it running until ctx is done
func serve(ctx context.Context) error {
	configPath := service.DefaultConfigPath()
	if flags.configPath != nil && *flags.configPath != "" {
		configPath = *flags.configPath
	}
	v := viper.New()
	config, err := service.ReadConfig(configPath, v)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	service.UpdateLogParams(config.LogFormat, config.LogLevel)
	service.SetupConfigWatcher(v, service.OnConfigChange)

	state, err := stateStore(config)
	if err != nil {
		return err
	}
	exec := array.NewRPCExecutor(*config.Primary.Endpoint(), config.Insecure)
	driver, err := service.New(config.Opts, exec, state)
	if err != nil {
		return err
	}
	if err := driver.BeforeServe(ctx); err != nil {
		return err
	}
	if err := driver.Probe(ctx); err != nil {
		log.Errorf("probe of backend %s failed: %s", config.BackendID, err.Error())
		if *flags.probeOnly {
			return err
		}
	}
	if *flags.probeOnly {
		log.Infof("backend %s is serving from %q", config.BackendID, driver.ActiveBackendID())
		return nil
	}

	if *flags.metricsAddress != "" {
		server, err := metricsServer(*flags.metricsAddress, driver)
		if err != nil {
			return err
		}
		go func() {
			log.Infof("serving metrics on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server stopped: %s", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}
	<-ctx.Done()
	return nil
}

// stateStore persists the active backend in a config map when one is configured
func stateStore(config *service.Config) (service.StateStore, error) {
	if config.StateConfigMap.Name == "" {
		log.Warn("no state config map configured, the active backend is kept in memory")
		return service.NewMemoryStateStore(""), nil
	}
	clientSet, err := getKubeClientSetFunc(*flags.kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create the kube client for the state config map: %w", err)
	}
	return k8sutils.NewConfigMapStore(clientSet, config.StateConfigMap.Namespace, config.StateConfigMap.Name), nil
}

// metricsServer serves the driver metrics and a health check probing the active cluster
func metricsServer(address string, driver service.Service) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, err
	}
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler(registry)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := driver.Probe(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintf(w, "active backend %q\n", driver.ActiveBackendID())
	}).Methods(http.MethodGet)
	return &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

const usage = `    X_CSI_REMOTECOPY_CONFIG_PATH
        Specifies the path of the driver configuration file when --config
        is not given.

        The default value is /etc/csi-remotecopy/config.yaml.

    X_CSI_REMOTECOPY_USER, X_CSI_REMOTECOPY_PASSWORD
        Override the credentials of the primary cluster.

    X_CSI_REMOTECOPY_TARGET_USER, X_CSI_REMOTECOPY_TARGET_PASSWORD
        Override the credentials of the replication target.

    X_CSI_REMOTECOPY_SKIP_CERTIFICATE_VALIDATION
        Specifies that the cluster hostname and certificate chain
        should not be validated.

        The default value is false.

    X_CSI_REMOTECOPY_SYNC_TIMEOUT, X_CSI_REMOTECOPY_POLL_INTERVAL
        Override how long relationships may take to synchronize and how
        often they are polled.

    X_CSI_REMOTECOPY_STATE_NAMESPACE
        Namespace of the config map holding the active backend id.

    X_CSI_REMOTECOPY_LOG_LEVEL
        Overrides the log level of the configuration file.

    X_CSI_REMOTECOPY_DEBUG
        Turns on logging of the array request payloads
`

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "\nEnvironment:\n%s", usage)
	}
}
