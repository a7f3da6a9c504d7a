/*
 Copyright © 2025-2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dell/csi-remotecopy/v2/k8smock"
	"github.com/dell/csi-remotecopy/v2/k8sutils"
	"github.com/dell/csi-remotecopy/v2/pkg/array/mock"
	"github.com/dell/csi-remotecopy/v2/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
)

func Test_main(t *testing.T) {
	defaultRunFunc := driverRunFunc
	defaultGetKubeClientSetFunc := getKubeClientSetFunc
	defaultRunLeaderElectionFunc := runWithLeaderElectionFunc
	defaultInitFlagsFunc := initFlagsFunc

	afterEach := func() {
		flags.enableLeaderElection = nil
		flags.leaderElectionNamespace = nil
		flags.kubeconfig = nil
		driverRunFunc = defaultRunFunc
		getKubeClientSetFunc = defaultGetKubeClientSetFunc
		runWithLeaderElectionFunc = defaultRunLeaderElectionFunc
		initFlagsFunc = defaultInitFlagsFunc
	}

	runningCh := make(chan string)
	tests := []struct {
		name  string
		setup func()
		want  string
	}{
		{
			name: "execute main() without leader election",
			setup: func() {
				driverRunFunc = func(_ context.Context) {
					runningCh <- "running"
				}
				initFlagsFunc = func() {
					LEEnabled := false
					LENamespace := ""
					kubeconfig := ""
					flags.enableLeaderElection = &LEEnabled
					flags.leaderElectionNamespace = &LENamespace
					flags.kubeconfig = &kubeconfig
				}
			},
			want: "running",
		},
		{
			name: "execute main() with leader election",
			setup: func() {
				driverRunFunc = func(_ context.Context) {
					runningCh <- "running"
				}
				initFlagsFunc = func() {
					LEEnabled := true
					LENamespace := ""
					kubeconfig := ""
					flags.enableLeaderElection = &LEEnabled
					flags.leaderElectionNamespace = &LENamespace
					flags.kubeconfig = &kubeconfig
				}
				getKubeClientSetFunc = func(_ string) (kubernetes.Interface, error) {
					return fake.NewSimpleClientset(), nil
				}
			},
			want: "running",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer afterEach()
			tt.setup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			go main()

			select {
			case running := <-runningCh:
				if running != tt.want {
					t.Errorf("main() = %v, want %v", running, tt.want)
				}
			case <-ctx.Done():
				t.Errorf("timed out waiting for driver to run")
			}
		})
	}
}

func Test_driverRun(t *testing.T) {
	// capture defaults and reset after each test for a clean testing env.
	defaultRunFunc := driverRunFunc
	defaultGetKubeClientSetFunc := getKubeClientSetFunc
	defaultRunLeaderElectionFunc := runWithLeaderElectionFunc
	afterEach := func() {
		flags.enableLeaderElection = nil
		flags.leaderElectionNamespace = nil
		flags.kubeconfig = nil
		driverRunFunc = defaultRunFunc
		getKubeClientSetFunc = defaultGetKubeClientSetFunc
		runWithLeaderElectionFunc = defaultRunLeaderElectionFunc
	}

	runningCh := make(chan string)
	tests := []struct {
		name    string
		setup   func()
		want    string
		wantErr bool
		errMsg  string
	}{
		{
			name: "run the driver without leader election",
			setup: func() {
				enableLE := false

				// assign values to necessary flags
				flags.enableLeaderElection = &enableLE
				driverRunFunc = func(_ context.Context) {
					runningCh <- "running"
				}
			},
			want:    "running",
			wantErr: false,
			errMsg:  "",
		},
		{
			name: "run the driver with leader election",
			setup: func() {
				enableLE := true
				LENamespace := "remotecopy"
				kubeconfigFilepath := "./some/path"

				getKubeClientSetFunc = func(_ string) (kubernetes.Interface, error) {
					return fake.NewSimpleClientset(), nil
				}

				// assign values to necessary flags
				flags.enableLeaderElection = &enableLE
				flags.leaderElectionNamespace = &LENamespace
				flags.kubeconfig = &kubeconfigFilepath

				driverRunFunc = func(_ context.Context) {
					runningCh <- "running"
				}
			},
			want:    "running",
			wantErr: false,
			errMsg:  "",
		},
		{
			name: "fail to create a kube clientset",
			setup: func() {
				enableLE := true
				LENamespace := "remotecopy"
				kubeconfigFilepath := "./some/path"

				// assign values to necessary flags
				flags.enableLeaderElection = &enableLE
				flags.leaderElectionNamespace = &LENamespace
				flags.kubeconfig = &kubeconfigFilepath
				driverRunFunc = func(_ context.Context) {
					runningCh <- "should not be running"
				}
			},
			want:    "",
			wantErr: true,
			errMsg:  "",
		},
		{
			name: "leader election fails",
			setup: func() {
				enableLE := true
				LENamespace := "remotecopy"
				kubeconfigFilepath := "./some/path"

				getKubeClientSetFunc = func(_ string) (kubernetes.Interface, error) {
					return fake.NewSimpleClientset(), nil
				}
				runWithLeaderElectionFunc = func(_ kubernetes.Interface, _ string, _ string, _ func(context.Context)) error {
					return errors.New("error, leader election failed")
				}

				// assign values to necessary flags
				flags.enableLeaderElection = &enableLE
				flags.leaderElectionNamespace = &LENamespace
				flags.kubeconfig = &kubeconfigFilepath

				driverRunFunc = func(_ context.Context) {
					runningCh <- "should not be running"
				}
			},
			want:    "",
			wantErr: true,
			errMsg:  "error, leader election failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer afterEach()

			tt.setup()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()

			err := make(chan error)
			go func() {
				err <- driverRun()
			}()

			select {
			case running := <-runningCh:
				if running != tt.want {
					t.Errorf("driverRun() = %v, want %v", running, tt.want)
				}
			case e := <-err:
				if (e != nil) != tt.wantErr {
					t.Errorf("driverRun() error = %v, wantErr %v", e, tt.wantErr)
				} else {
					if e != nil {
						assert.Contains(t, e.Error(), tt.errMsg)
					}
				}
			case <-ctx.Done():
				t.Errorf("driverRun() timed out")
			}
		})
	}
}

func Test_initFlags(t *testing.T) {
	type testFlags struct {
		configPath              string
		enableLeaderElection    bool
		leaderElectionNamespace string
		kubeconfig              string
		metricsAddress          string
		probeOnly               bool
	}
	tests := []struct {
		name string
		want testFlags
	}{
		{
			name: "execute initFlags()",
			want: testFlags{
				enableLeaderElection:    false,
				leaderElectionNamespace: "",
				kubeconfig:              "",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initFlagsFunc()

			assert.Equal(t, tt.want.enableLeaderElection, *flags.enableLeaderElection)
			assert.Equal(t, tt.want.leaderElectionNamespace, *flags.leaderElectionNamespace)
			assert.Equal(t, tt.want.kubeconfig, *flags.kubeconfig)
			assert.Equal(t, tt.want.configPath, *flags.configPath)
			assert.Equal(t, tt.want.metricsAddress, *flags.metricsAddress)
			assert.Equal(t, tt.want.probeOnly, *flags.probeOnly)
		})
	}
}

func writeTestConfig(t *testing.T, stateConfigMap string) string {
	config := `backendId: backend-a
primary:
  name: primary
  host: 127.0.0.1
  port: 1
  pool: pool1
replicationTarget:
  backendId: backend-b
  name: secondary
  host: 127.0.0.1
  port: 2
  pool: pool2
timeouts:
  pollInterval: 5ms
logLevel: info
` + stateConfigMap
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))
	return path
}

func Test_serve(t *testing.T) {
	defer service.UpdateLogParams("text", "debug")
	defaultFlags := flags
	defaultGetKubeClientSetFunc := getKubeClientSetFunc
	defer func() {
		flags = defaultFlags
		getKubeClientSetFunc = defaultGetKubeClientSetFunc
	}()

	tests := []struct {
		name    string
		config  func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing configuration file",
			config:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.yaml") },
			wantErr: "none.yaml",
		},
		{
			name:    "probe of an unreachable cluster",
			config:  func(t *testing.T) string { return writeTestConfig(t, "") },
			wantErr: "unreachable",
		},
		{
			name: "state config map without a kube client",
			config: func(t *testing.T) string {
				return writeTestConfig(t, "stateConfigMap:\n  namespace: remotecopy\n  name: state\n")
			},
			wantErr: "state config map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := tt.config(t)
			probeOnly := true
			empty := ""
			kubeconfig := "./some/path"
			flags = flagSet{
				configPath:     &configPath,
				probeOnly:      &probeOnly,
				metricsAddress: &empty,
				kubeconfig:     &kubeconfig,
			}
			getKubeClientSetFunc = func(_ string) (kubernetes.Interface, error) {
				return nil, errors.New("no cluster")
			}
			err := serve(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func Test_stateStore(t *testing.T) {
	defaultFlags := flags
	defaultGetKubeClientSetFunc := getKubeClientSetFunc
	defer func() {
		flags = defaultFlags
		getKubeClientSetFunc = defaultGetKubeClientSetFunc
	}()
	kubeconfig := ""
	flags.kubeconfig = &kubeconfig

	store, err := stateStore(&service.Config{})
	require.NoError(t, err)
	assert.IsType(t, &service.MemoryStateStore{}, store)

	client := k8smock.Init().WithConfigMap("remotecopy", "state", map[string]string{k8sutils.ActiveBackendKey: "backend-b"}).KubernetesClient
	getKubeClientSetFunc = func(_ string) (kubernetes.Interface, error) { return client, nil }
	store, err = stateStore(&service.Config{StateConfigMap: service.StateConfigMap{Namespace: "remotecopy", Name: "state"}})
	require.NoError(t, err)
	id, err := store.GetActiveBackendID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backend-b", id)
}

func Test_metricsServer(t *testing.T) {
	sim := mock.New("primary", "secondary")
	driver, err := service.New(service.Opts{
		BackendID: "backend-a",
		Primary:   service.ClusterOpts{Name: "primary", Host: "primary"},
	}, sim, nil)
	require.NoError(t, err)
	require.NoError(t, driver.BeforeServe(context.Background()))

	server, err := metricsServer(":0", driver)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "remotecopy_"), rec.Body.String())

	sim.SetUnreachable("primary", true)
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
