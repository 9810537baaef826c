// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package cli assembles the pollgate command tree.

	pollgate
	├── run                      serve the API and poll on schedule
	├── triggers
	│   ├── list | show <name>
	│   ├── test <name>          preview up to five items, no state change
	│   ├── poll <name>          poll once and deliver new items
	│   ├── enable | disable <name> [--purge]
	│   └── reset <name> [--yes]
	├── config show | path | validate [--strict]
	├── completion bash | zsh | fish | powershell
	└── version

main only supplies BuildInfo and calls Execute. Failures are mapped to exit
codes by shared.HandleExitError:

	0  success
	1  general failure
	2  invalid configuration or trigger declaration
	3  trigger or piece not found
	4  item source failed or is rate limited
	5  trigger has no cursor

With --json the error is written to stdout as a JSON document instead.
*/
package cli
