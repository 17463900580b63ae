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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekmixon/transparent-security/router/control"
)

func TestSampleParsesAndValidates(t *testing.T) {
	var cfg Config
	require.NoError(t, toml.Unmarshal([]byte(Sample), &cfg))
	cfg.InitDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(1), cfg.Switch.SwitchID)
	assert.Equal(t, uint16(1), cfg.Switch.UplinkPort)
	assert.Equal(t, uint16(555), cfg.Switch.IntPort)
	assert.Len(t, cfg.Ports, 2)
	assert.Len(t, cfg.Tables.Inspection, 1)
	assert.Len(t, cfg.Tables.Forward, 1)
}

func TestInitDefaults(t *testing.T) {
	var cfg Config
	cfg.InitDefaults()
	assert.Equal(t, uint16(555), cfg.Switch.IntPort)
	assert.Equal(t, uint8(3), cfg.Switch.MaxHops)
	assert.Equal(t, 3, cfg.Switch.MetaStackDepth)
	assert.Equal(t, OverflowDropOldest, cfg.Switch.Overflow)
	assert.Equal(t, ModeLearn, cfg.Switch.Mode)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		var cfg Config
		cfg.InitDefaults()
		cfg.Switch.UplinkPort = 1
		cfg.Ports = []Port{
			{Port: 1, Local: "10.0.0.1:31000", Remote: "10.0.0.2:31000"},
			{Port: 2, Local: "10.0.1.1:31000"},
		}
		return &cfg
	}

	testCases := map[string]struct {
		prepare   func(*Config)
		assertErr assert.ErrorAssertionFunc
	}{
		"valid": {
			prepare:   func(*Config) {},
			assertErr: assert.NoError,
		},
		"no ports": {
			prepare:   func(cfg *Config) { cfg.Ports = nil },
			assertErr: assert.Error,
		},
		"duplicate port": {
			prepare:   func(cfg *Config) { cfg.Ports[1].Port = 1 },
			assertErr: assert.Error,
		},
		"bad local endpoint": {
			prepare:   func(cfg *Config) { cfg.Ports[0].Local = "nonsense" },
			assertErr: assert.Error,
		},
		"bad remote endpoint": {
			prepare:   func(cfg *Config) { cfg.Ports[0].Remote = "10.0.0.2" },
			assertErr: assert.Error,
		},
		"uplink not a port": {
			prepare:   func(cfg *Config) { cfg.Switch.UplinkPort = 9 },
			assertErr: assert.Error,
		},
		"bad overflow policy": {
			prepare:   func(cfg *Config) { cfg.Switch.Overflow = "newest" },
			assertErr: assert.Error,
		},
		"bad mode": {
			prepare:   func(cfg *Config) { cfg.Switch.Mode = "flood" },
			assertErr: assert.Error,
		},
		"route mode needs mirror port": {
			prepare: func(cfg *Config) {
				cfg.Switch.Mode = ModeRoute
				cfg.Switch.MirrorPort = 9
			},
			assertErr: assert.Error,
		},
		"route mode with mirror port": {
			prepare: func(cfg *Config) {
				cfg.Switch.Mode = ModeRoute
				cfg.Switch.MirrorPort = 2
			},
			assertErr: assert.NoError,
		},
		"bad table entry": {
			prepare: func(cfg *Config) {
				cfg.Tables.Forward = []control.ForwardEntry{
					{DstMac: "not-a-mac", Port: 2},
				}
			},
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			tc.prepare(cfg)
			tc.assertErr(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.toml")
	require.NoError(t, os.WriteFile(path, []byte(Sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.Switch.SwitchID)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("switch = 5"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
