/*
Copyright © 2020-2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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

package k8sutils

import (
	"context"
	"fmt"

	"github.com/kubernetes-csi/csi-lib-utils/leaderelection"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ActiveBackendKey is the config map key holding the active backend id
const ActiveBackendKey = "activeBackendId"

// CreateKubeClientSet - Returns kubeClient set
func CreateKubeClientSet(kubeConfig string) (*kubernetes.Clientset, error) {
	var clientSet *kubernetes.Clientset
	var config *rest.Config
	var err error
	if kubeConfig != "" {
		// use the current context in kubeConfig
		config, err = clientcmd.BuildConfigFromFlags("", kubeConfig)
		if err != nil {
			return nil, err
		}
	} else {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, err
		}
	}
	// create the clientSet
	clientSet, err = kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return clientSet, nil
}

// LeaderElection ...
func LeaderElection(clientSet kubernetes.Interface, lockName string, namespace string, runFunc func(ctx context.Context)) error {
	le := leaderelection.NewLeaderElection(clientSet, lockName, runFunc)
	le.WithNamespace(namespace)

	return le.Run()
}

// ConfigMapStore persists the active backend id in a config map so a
// restarted driver keeps serving from the backend it failed over to
type ConfigMapStore struct {
	ClientSet kubernetes.Interface
	Namespace string
	Name      string
}

// NewConfigMapStore returns a store backed by the config map namespace/name
func NewConfigMapStore(clientSet kubernetes.Interface, namespace, name string) *ConfigMapStore {
	return &ConfigMapStore{ClientSet: clientSet, Namespace: namespace, Name: name}
}

// GetActiveBackendID returns the stored id, empty when the config map does not exist yet
func (s *ConfigMapStore) GetActiveBackendID(ctx context.Context) (string, error) {
	cm, err := s.ClientSet.CoreV1().ConfigMaps(s.Namespace).Get(ctx, s.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		log.Debugf("config map %s/%s not found, the primary is active", s.Namespace, s.Name)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to read config map %s/%s: %w", s.Namespace, s.Name, err)
	}
	return cm.Data[ActiveBackendKey], nil
}

// SetActiveBackendID stores id, creating the config map when needed
func (s *ConfigMapStore) SetActiveBackendID(ctx context.Context, id string) error {
	configMaps := s.ClientSet.CoreV1().ConfigMaps(s.Namespace)
	cm, err := configMaps.Get(ctx, s.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.Name, Namespace: s.Namespace},
			Data:       map[string]string{ActiveBackendKey: id},
		}
		if _, err = configMaps.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("unable to create config map %s/%s: %w", s.Namespace, s.Name, err)
		}
		log.Infof("Created config map %s/%s with active backend %q", s.Namespace, s.Name, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read config map %s/%s: %w", s.Namespace, s.Name, err)
	}
	if cm.Data == nil {
		cm.Data = make(map[string]string)
	}
	cm.Data[ActiveBackendKey] = id
	if _, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("unable to update config map %s/%s: %w", s.Namespace, s.Name, err)
	}
	log.Infof("Active backend %q recorded in config map %s/%s", id, s.Namespace, s.Name)
	return nil
}
