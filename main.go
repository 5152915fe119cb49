// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/invowk/runmatrix/cmd/runmatrix"

func main() {
	cmd.Execute()
}
