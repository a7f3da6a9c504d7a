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

const (
	// EnvConfigPath is the name of the environment variable used to set the
	// path of the driver configuration file
	EnvConfigPath = "X_CSI_REMOTECOPY_CONFIG_PATH"

	// EnvUser is the name of the enviroment variable used to override the
	// username of the primary cluster
	EnvUser = "X_CSI_REMOTECOPY_USER"

	// EnvPassword is the name of the enviroment variable used to override the
	// password of the primary cluster
	// #nosec G101
	EnvPassword = "X_CSI_REMOTECOPY_PASSWORD" // #nosec G101

	// EnvTargetUser overrides the username of the replication target
	EnvTargetUser = "X_CSI_REMOTECOPY_TARGET_USER"

	// EnvTargetPassword overrides the password of the replication target
	EnvTargetPassword = "X_CSI_REMOTECOPY_TARGET_PASSWORD" // #nosec G101

	// EnvSkipCertificateValidation is the name of the environment variable used
	// to specify the array certificate chain and host name should not
	// be validated.
	EnvSkipCertificateValidation = "X_CSI_REMOTECOPY_SKIP_CERTIFICATE_VALIDATION"

	// EnvSyncTimeout overrides how long a relationship may take to synchronize
	EnvSyncTimeout = "X_CSI_REMOTECOPY_SYNC_TIMEOUT"

	// EnvPollInterval overrides the interval of all convergence polls
	EnvPollInterval = "X_CSI_REMOTECOPY_POLL_INTERVAL"

	// EnvLogLevel overrides the log level of the configuration file
	EnvLogLevel = "X_CSI_REMOTECOPY_LOG_LEVEL"

	// EnvDebug turns on logging of array request payloads
	EnvDebug = "X_CSI_REMOTECOPY_DEBUG"

	// EnvStateNamespace is the namespace of the config map holding the active backend id
	EnvStateNamespace = "X_CSI_REMOTECOPY_STATE_NAMESPACE"
)
