// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package kernel

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// knownDevices is the set of device tags this package recognizes as
// valid tensor-core targets; the zero value "" is always accepted, and
// the profile's use_tensor_cores setting is kept as loaded.
var knownDevices = map[string]bool{
	"":      true,
	"METAL": true,
	"HIP":   true,
	"CUDA":  true,
}

// LoadTargetProfile reads a Capabilities descriptor from a YAML file.
// It round-trips through encoding/json (via sigs.k8s.io/yaml), matching
// the json-tagged Capabilities struct. The JSON schedule item read by
// cmd/tlc carries no capabilities; they come only from this profile.
func LoadTargetProfile(path string) (*Capabilities, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kernel: reading target profile %s: %w", path, err)
	}
	var profile Capabilities
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("kernel: parsing target profile %s: %w", path, err)
	}
	if profile.UseTensorCores && !knownDevices[profile.Device] {
		return nil, fmt.Errorf("%w: device %q has no tensor-core path", ErrUnsupportedTarget, profile.Device)
	}
	return &profile, nil
}
