// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		if n < 3 {
			return errors.New("address in use")
		}
		return nil
	}, Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDoAttempts(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return errors.New("always")
	}, Attempts(4), Sleep(time.Millisecond), MaxSleepTime(2*time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 4, n)
}

func TestDoUnrecoverable(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return Unrecoverable(merr.ErrParameterInvalid)
	}, Sleep(time.Millisecond))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.False(t, IsRecoverable(err))
	assert.True(t, IsRecoverable(merr.ErrTransport))
}

func TestDoRetryErr(t *testing.T) {
	n := 0
	err := Do(context.Background(), func() error {
		n++
		return merr.ErrProtocolViolation
	}, Sleep(time.Millisecond), RetryErr(merr.IsRetryableErr))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, merr.ErrProtocolViolation)
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = Do(ctx, func() error { return errors.New("busy") }, Attempts(0), Sleep(10*time.Millisecond))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
