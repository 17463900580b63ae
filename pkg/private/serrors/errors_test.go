// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

func TestNew(t *testing.T) {
	err1 := serrors.New("err msg")
	err2 := serrors.New("err msg")
	assert.False(t, errors.Is(err1, err2))
	assert.True(t, errors.Is(err1, err1))
	assert.Equal(t, "err msg", err1.Error())

	errCtx := serrors.New("err msg", "k0", "v0", "k1", 1)
	assert.Equal(t, "err msg {k0=v0; k1=1}", errCtx.Error())
}

func TestWrap(t *testing.T) {
	cause := serrors.New("cause")
	err := serrors.Wrap("failure", cause, "ctx", "value")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "failure {ctx=value}: cause", err.Error())
}

func TestJoin(t *testing.T) {
	sentinel := errors.New("sentinel")
	cause := errors.New("cause")

	testCases := map[string]struct {
		err       error
		isErrs    []error
		isNotErrs []error
	}{
		"nil": {
			err: serrors.Join(nil, nil),
		},
		"sentinel only": {
			err:       serrors.Join(sentinel, nil, "k", "v"),
			isErrs:    []error{sentinel},
			isNotErrs: []error{cause},
		},
		"sentinel with cause": {
			err:    serrors.Join(sentinel, cause),
			isErrs: []error{sentinel, cause},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			for _, target := range tc.isErrs {
				assert.True(t, errors.Is(tc.err, target))
			}
			for _, target := range tc.isNotErrs {
				assert.False(t, errors.Is(tc.err, target))
			}
		})
	}
}

func TestList(t *testing.T) {
	var l serrors.List
	assert.NoError(t, l.ToError())
	l = append(l, serrors.New("first"), serrors.New("second"))
	assert.Error(t, l.ToError())
	assert.Equal(t, "[ first; second ]", fmt.Sprint(l.ToError()))
}

func ExampleNew() {
	err := serrors.New("listing failed", "port", 42, "table", "data_forward")
	fmt.Println(err)
	// Output:
	// listing failed {port=42; table=data_forward}
}
