// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/runner-service/envprov/cmd/envprov"

func main() {
	cmd.Execute()
}
