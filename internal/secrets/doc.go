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
Package secrets resolves credential references used in pollgate configuration.

A credential value in the config file may be a literal or a reference:

	env:JIRA_TOKEN            - environment variable
	file:/run/secrets/token   - file contents, trailing whitespace trimmed
	${JIRA_TOKEN}             - environment variable (legacy syntax)

References are routed by scheme through a Registry. Values that carry no
registered scheme are returned unchanged after ${VAR} expansion, so plain
tokens keep working.

Resolution errors never include the resolved value.
*/
package secrets
