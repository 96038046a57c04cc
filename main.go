// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/layerkit/layerkit/cmd/layerkit"

func main() {
	cmd.Execute()
}
