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
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTargetProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")
	contents := "device: METAL\nhas_local: true\nuse_tensor_cores: true\ndont_use_locals: false\n"
	if err := writeFile(path, contents); err != nil {
		t.Fatal(err)
	}
	cap, err := LoadTargetProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cap.Device != "METAL" || !cap.HasLocal || !cap.UseTensorCores || cap.DontUseLocals {
		t.Errorf("parsed capabilities = %+v", cap)
	}
}

func TestLoadTargetProfileRejectsUnknownTensorCoreDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")
	contents := "device: FPGA_PROTOTYPE\nuse_tensor_cores: true\n"
	if err := writeFile(path, contents); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTargetProfile(path); err == nil {
		t.Error("an unrecognized tensor-core device should be rejected")
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
