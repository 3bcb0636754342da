package main

import "github.com/ci-tools/grcovgo/internal/cli"

func main() {
	cli.Execute()
}
