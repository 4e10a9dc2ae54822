package main

import (
	"errors"
	"os"

	"github.com/dougbtv/vllm-flake-checker/internal/cmd"
	"github.com/dougbtv/vllm-flake-checker/pkg/flake"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, flake.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
