// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command blacklist-grpc serves the blacklist text filter as a binary plugin.
//
// Words come from the "words" list of the bundle type's config block.
package main

import (
	"fmt"
	"os"

	"github.com/holomush/palaver/pkg/pluginsdk"
	"github.com/holomush/palaver/plugins/blacklist"
)

func main() {
	cfg, err := pluginsdk.Config()
	if err != nil {
		fail(err)
	}
	words, err := pluginsdk.StringSlice(cfg, "words")
	if err != nil {
		fail(err)
	}

	filter, err := blacklist.New(words...)
	if err != nil {
		fail(err)
	}

	pluginsdk.Serve(&pluginsdk.ServeConfig{Filter: filter})
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "blacklist-grpc: %v\n", err)
	os.Exit(1)
}
