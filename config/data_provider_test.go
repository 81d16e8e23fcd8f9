/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

func TestWrapKeyErrIfNeeded(t *testing.T) {
	require.NoError(t, WrapKeyErrIfNeeded("some.key", nil))

	err := WrapKeyErrIfNeeded("some.key", errTest)
	require.EqualError(t, err, "some.key: test error")
	require.ErrorIs(t, err, errTest)
}
