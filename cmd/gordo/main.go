package main

// gordo - command line interface of gordo model server client
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"os"

	"github.com/vkuznet/gordo-client/internal/cli"
)

// version of the code
var version = "dev"

func main() {
	if err := cli.Execute(version, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
