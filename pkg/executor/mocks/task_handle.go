package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wifibench/wifibench/pkg/executor"
)

// TaskHandle is an autogenerated mock type for the TaskHandle type
type TaskHandle struct {
	mock.Mock
}

// Stop provides a mock function with given fields:
func (_m *TaskHandle) Stop() error {
	ret := _m.Called()
	return ret.Error(0)
}

// Status provides a mock function with given fields:
func (_m *TaskHandle) Status() executor.TaskState {
	ret := _m.Called()
	return ret.Get(0).(executor.TaskState)
}

// ExitCode provides a mock function with given fields:
func (_m *TaskHandle) ExitCode() (int, error) {
	ret := _m.Called()
	return ret.Get(0).(int), ret.Error(1)
}

// Stdout provides a mock function with given fields:
func (_m *TaskHandle) Stdout() string {
	ret := _m.Called()
	return ret.Get(0).(string)
}

// Stderr provides a mock function with given fields:
func (_m *TaskHandle) Stderr() string {
	ret := _m.Called()
	return ret.Get(0).(string)
}

// Wait provides a mock function with given fields: timeout
func (_m *TaskHandle) Wait(timeout time.Duration) bool {
	ret := _m.Called(timeout)
	return ret.Get(0).(bool)
}

// Address provides a mock function with given fields:
func (_m *TaskHandle) Address() string {
	ret := _m.Called()
	return ret.Get(0).(string)
}
