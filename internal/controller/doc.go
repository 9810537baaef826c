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
Package controller builds and runs the pollgate server.

New opens the cursor store and builds the piece registry, the sink and the
poll trigger service. Start registers and arms every configured trigger,
serves the HTTP API and blocks until its context ends.
Shutdown stops polling and closes the sink and store in reverse order of
opening.

Run is the foreground entry point used by "pollgate run":

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	err := controller.Run(ctx, controller.RunOptions{ConfigPath: path})

One-shot commands such as "triggers poll" call New and RegisterTrigger
without Start, so no scheduler timers or listener are created.
*/
package controller
