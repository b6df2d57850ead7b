package main

import (
	"context"
	"fmt"
	"os"

	"go.wirecache.dev/wirecache/cmd/wirecache"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := wirecache.App.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
