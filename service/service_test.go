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

package service

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"
)

var testStartTime time.Time

func TestMain(m *testing.M) {
	testStartTime = time.Now()
	status := m.Run()
	fmt.Printf("status %d\n", status)
	os.Exit(status)
}

func TestGoDog(t *testing.T) {
	fmt.Printf("starting godog...\n")
	status := godog.TestSuite{
		Name:                "godog",
		ScenarioInitializer: FeatureContext,
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features"},
		},
	}.Run()
	fmt.Printf("godog finished\n")
	if status != 0 {
		t.Error("Error encountered in godog testing")
	}
}
