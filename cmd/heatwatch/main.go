package main

import "github.com/ogulcanaydogan/heatwatch/internal/cli"

func main() {
	cli.Execute()
}
