// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Shuttlehub - Warehouse Shuttle Control Client
//
// A CLI tool for monitoring, commanding and updating warehouse shuttle
// robots over their TCP control protocol.

package main

import (
	"os"

	"github.com/Thermoquad/shuttlehub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
