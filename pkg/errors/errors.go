/*
 Copyright © 2026 Dell Inc. or its subsidiaries. All Rights Reserved.

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

// Package errors holds the typed failures returned by the array command
// executor and the replication orchestration layer.
package errors

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an error reported by an array for a single command.
type Code string

// Array error codes
const (
	CodeUnknown       = Code("Unknown")
	CodeAlreadyExists = Code("AlreadyExists")
	CodeNotFound      = Code("NotFound")
	CodeLimitExceeded = Code("LimitExceeded")
	CodeInGroup       = Code("InGroup")
)

// ErrArray is returned when an array accepted a command but failed it.
// A CodeUnknown error is a generic backend API failure.
type ErrArray struct {
	Method  string
	Code    Code
	Message string
}

func (e *ErrArray) Error() string {
	return fmt.Sprintf("array command %s failed (%s): %s", e.Method, e.Code, e.Message)
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrArray) GRPCStatus() *status.Status {
	switch e.Code {
	case CodeAlreadyExists:
		return status.New(codes.AlreadyExists, e.Error())
	case CodeNotFound:
		return status.New(codes.NotFound, e.Error())
	case CodeLimitExceeded:
		return status.New(codes.ResourceExhausted, e.Error())
	}
	return status.New(codes.Internal, e.Error())
}

// ErrBackendUnreachable is returned when the array endpoint or the command
// channel could not be reached.
type ErrBackendUnreachable struct {
	Endpoint string
	Cause    error
}

func (e *ErrBackendUnreachable) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("backend %s is unreachable", e.Endpoint)
	}
	return fmt.Sprintf("backend %s is unreachable: %s", e.Endpoint, e.Cause.Error())
}

func (e *ErrBackendUnreachable) Unwrap() error {
	return e.Cause
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrBackendUnreachable) GRPCStatus() *status.Status {
	return status.New(codes.Unavailable, e.Error())
}

// ErrDriver is a precondition violation. Retrying will not help.
type ErrDriver struct {
	Reason string
}

func (e *ErrDriver) Error() string {
	return e.Reason
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrDriver) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Reason)
}

// ErrVolumeNotFound is returned when a volume that must exist is absent
type ErrVolumeNotFound struct {
	ID string
}

func (e *ErrVolumeNotFound) Error() string {
	return fmt.Sprintf("volume %s could not be found", e.ID)
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrVolumeNotFound) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

// ErrTimeout is returned when a convergence wait did not complete in time
type ErrTimeout struct {
	Operation string
	Timeout   time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Operation)
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrTimeout) GRPCStatus() *status.Status {
	return status.New(codes.DeadlineExceeded, e.Error())
}

// ErrUnableToFailOver is a fatal refusal to fail over or fail back
type ErrUnableToFailOver struct {
	Reason string
}

func (e *ErrUnableToFailOver) Error() string {
	return fmt.Sprintf("unable to failover: %s", e.Reason)
}

// GRPCStatus maps the error onto a gRPC status
func (e *ErrUnableToFailOver) GRPCStatus() *status.Status {
	return status.New(codes.Aborted, e.Error())
}

// Driverf builds an ErrDriver
func Driverf(format string, args ...interface{}) error {
	return &ErrDriver{Reason: fmt.Sprintf(format, args...)}
}

// UnableToFailOverf builds an ErrUnableToFailOver
func UnableToFailOverf(format string, args ...interface{}) error {
	return &ErrUnableToFailOver{Reason: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code Code) bool {
	var arrayErr *ErrArray
	if errors.As(err, &arrayErr) {
		return arrayErr.Code == code
	}
	return false
}

// IsAlreadyExists reports whether the array said the object already exists
func IsAlreadyExists(err error) bool {
	return hasCode(err, CodeAlreadyExists)
}

// IsNotFound reports whether the array said the object does not exist
func IsNotFound(err error) bool {
	var volErr *ErrVolumeNotFound
	if errors.As(err, &volErr) {
		return true
	}
	return hasCode(err, CodeNotFound)
}

// IsLimitExceeded reports whether an array limit was hit
func IsLimitExceeded(err error) bool {
	return hasCode(err, CodeLimitExceeded)
}

// IsInGroup reports whether the object already belongs to a group
func IsInGroup(err error) bool {
	return hasCode(err, CodeInGroup)
}

// IsUnreachable reports whether the error is a connectivity failure
func IsUnreachable(err error) bool {
	var e *ErrBackendUnreachable
	return errors.As(err, &e)
}

// IsTimeout reports whether the error is a convergence timeout
func IsTimeout(err error) bool {
	var e *ErrTimeout
	return errors.As(err, &e)
}

// IsDriver reports whether the error is a precondition violation
func IsDriver(err error) bool {
	var e *ErrDriver
	return errors.As(err, &e)
}
