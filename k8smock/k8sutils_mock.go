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

package k8smock

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubernetes "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// MockUtils - mock kubernetes utils
type MockUtils struct {
	KubernetesClient *kubernetes.Clientset
}

// Init - initializes the mock k8s utils with a fresh fake clientset
func Init() *MockUtils {
	return &MockUtils{
		KubernetesClient: kubernetes.NewSimpleClientset(),
	}
}

// WithConfigMap seeds a config map holding data
func (m *MockUtils) WithConfigMap(namespace, name string, data map[string]string) *MockUtils {
	objects := []runtime.Object{&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       data,
	}}
	m.KubernetesClient = kubernetes.NewSimpleClientset(objects...)
	return m
}

// FailConfigMaps makes every verb request on config maps fail
func (m *MockUtils) FailConfigMaps(verb string) *MockUtils {
	m.KubernetesClient.PrependReactor(verb, "configmaps", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, fmt.Errorf("induced %s error", action.GetVerb())
	})
	return m
}
