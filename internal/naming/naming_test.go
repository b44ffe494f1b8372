// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package naming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm/api"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		base string
		ok   bool
	}{
		{"plain", "svc", true},
		{"with digits and underscore", "svc_01", true},
		{"empty", "", false},
		{"non-ascii", "svcé", false},
		{"control character", "svc\x01", false},
		{"too long", string(make([]byte, 300)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.base)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var xerr *api.Error
			require.True(t, errors.As(err, &xerr))
			require.Equal(t, api.CodeInvalidParam, xerr.Code)
		})
	}
}

func TestDerivedNames(t *testing.T) {
	require.Equal(t, `Global\svc_shm`, Section("svc"))
	require.Equal(t, `Global\svc_evt_s2c_data`, Event("svc", SuffixS2CData))
	require.Equal(t, `Global\svc_evt_conn`, Event("svc", SuffixConn))
	require.Equal(t, "svc_3", Slot("svc", 3))
	require.Equal(t, `Global\svc_3_evt_c2s_space`, Event(Slot("svc", 3), SuffixC2SSpace))
}
