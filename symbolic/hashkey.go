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

package symbolic

import "github.com/dchest/siphash"

// cacheSeed is a fixed siphash seed: cache keys only need to be
// deterministic within one process lifetime (so that repeated renders
// of the same expression dedup), not stable across versions or hosts.
const cacheSeed = 0x73796d626f6c6963 // "symbolic" in hex-ish form, arbitrary but fixed

// Hash64 returns a deterministic 64-bit digest of n's canonical key,
// suitable for composite cache keys (index expression, valid
// expression, ...). The linearizer's global_load cache keys on Key()
// strings directly and the uop graph's CSE cache hashes its own key, so
// neither calls Hash64. Structural equality (Equal) remains the source
// of truth; Hash64 is only a fast bucketing key.
func (n *Node) Hash64() uint64 {
	k := n.Key()
	return siphash.Hash(0, cacheSeed, []byte(k))
}
