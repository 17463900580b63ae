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

// Package config describes the TOML configuration of the switch.
package config

import (
	"net/netip"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/ekmixon/transparent-security/pkg/log"
	"github.com/ekmixon/transparent-security/pkg/private/serrors"
	"github.com/ekmixon/transparent-security/router/control"
)

// Overflow policy names accepted in the switch section.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowReject     = "reject"
)

// Forwarding mode names accepted in the switch section.
const (
	ModeLearn = "learn"
	ModeRoute = "route"
)

// Config is the switch configuration.
type Config struct {
	Logging log.Config     `toml:"logging,omitempty"`
	Metrics Metrics        `toml:"metrics,omitempty"`
	Switch  Switch         `toml:"switch,omitempty"`
	Ports   []Port         `toml:"ports,omitempty"`
	Tables  control.Tables `toml:"tables,omitempty"`
}

// Metrics configures the telemetry endpoint.
type Metrics struct {
	// Prometheus is the address the prometheus HTTP endpoint listens on.
	// Empty disables the endpoint.
	Prometheus string `toml:"prometheus,omitempty"`
}

// Switch are the packet-processing parameters of the dataplane.
type Switch struct {
	// SwitchID is the id this switch records in INT hop slots.
	SwitchID uint32 `toml:"switch_id,omitempty"`
	// UplinkPort is the default egress for unknown destinations.
	UplinkPort uint16 `toml:"uplink_port,omitempty"`
	// MirrorPort receives inspection copies in route mode.
	MirrorPort uint16 `toml:"mirror_port,omitempty"`
	// IntPort is the well-known UDP port marking INT traffic.
	IntPort uint16 `toml:"int_port,omitempty"`
	// MaxHops is the INT hop budget written into fresh headers.
	MaxHops uint8 `toml:"max_hops,omitempty"`
	// DomainID is the INT domain this switch belongs to.
	DomainID uint16 `toml:"domain_id,omitempty"`
	// MetaStackDepth is the number of hop slots a metadata stack can hold.
	MetaStackDepth int `toml:"meta_stack_depth,omitempty"`
	// Overflow is the policy applied when a hop must be recorded on a full
	// stack: drop_oldest or reject.
	Overflow string `toml:"overflow,omitempty"`
	// Mode selects the forwarding pipeline: learn or route.
	Mode string `toml:"mode,omitempty"`
}

// Port describes one switch port and its point-to-point UDP underlay.
type Port struct {
	// Port is the dataplane port number.
	Port uint16 `toml:"port"`
	// Local is the local underlay endpoint, e.g. "10.0.0.1:31000".
	Local string `toml:"local"`
	// Remote is the neighbor's underlay endpoint.
	Remote string `toml:"remote,omitempty"`
}

// InitDefaults fills in the values that were left unset.
func (cfg *Config) InitDefaults() {
	cfg.Logging.InitDefaults()
	if cfg.Switch.IntPort == 0 {
		cfg.Switch.IntPort = 555
	}
	if cfg.Switch.MaxHops == 0 {
		cfg.Switch.MaxHops = 3
	}
	if cfg.Switch.MetaStackDepth == 0 {
		cfg.Switch.MetaStackDepth = 3
	}
	if cfg.Switch.Overflow == "" {
		cfg.Switch.Overflow = OverflowDropOldest
	}
	if cfg.Switch.Mode == "" {
		cfg.Switch.Mode = ModeLearn
	}
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	if err := cfg.Logging.Validate(); err != nil {
		return err
	}
	switch cfg.Switch.Overflow {
	case OverflowDropOldest, OverflowReject:
	default:
		return serrors.New("invalid overflow policy", "overflow", cfg.Switch.Overflow)
	}
	switch cfg.Switch.Mode {
	case ModeLearn, ModeRoute:
	default:
		return serrors.New("invalid forwarding mode", "mode", cfg.Switch.Mode)
	}
	if len(cfg.Ports) == 0 {
		return serrors.New("no ports configured")
	}
	seen := make(map[uint16]struct{}, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if _, dup := seen[p.Port]; dup {
			return serrors.New("duplicate port", "port", p.Port)
		}
		seen[p.Port] = struct{}{}
		if _, err := netip.ParseAddrPort(p.Local); err != nil {
			return serrors.Wrap("bad local endpoint", err, "port", p.Port)
		}
		if p.Remote != "" {
			if _, err := netip.ParseAddrPort(p.Remote); err != nil {
				return serrors.Wrap("bad remote endpoint", err, "port", p.Port)
			}
		}
	}
	if _, ok := seen[cfg.Switch.UplinkPort]; !ok {
		return serrors.New("uplink port is not a configured port",
			"uplink", cfg.Switch.UplinkPort)
	}
	if cfg.Switch.Mode == ModeRoute {
		if _, ok := seen[cfg.Switch.MirrorPort]; !ok {
			return serrors.New("mirror port is not a configured port",
				"mirror", cfg.Switch.MirrorPort)
		}
	}
	return cfg.Tables.Validate()
}

// Load reads, parses and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading config", err, "path", path)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, serrors.Wrap("parsing config", err, "path", path)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, serrors.Wrap("validating config", err, "path", path)
	}
	return &cfg, nil
}
