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

// Sample is a complete example configuration.
const Sample = `# Example switch configuration.

[logging]
level = "info"
format = "human"

[metrics]
prometheus = "127.0.0.1:30442"

[switch]
switch_id = 1
uplink_port = 1
int_port = 555
max_hops = 3
meta_stack_depth = 3
overflow = "drop_oldest"
mode = "learn"

[[ports]]
port = 1
local = "10.0.0.1:31000"
remote = "10.0.0.2:31000"

[[ports]]
port = 2
local = "10.0.1.1:31000"
remote = "10.0.1.2:31000"

[tables]
[[tables.inspection]]
src_mac = "02:42:ac:11:00:02"

[[tables.hops]]
dst_port = 555

[[tables.forward]]
dst_mac = "02:42:ac:11:00:03"
port = 2
`
