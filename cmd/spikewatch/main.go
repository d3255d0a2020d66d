package main

import "eth-spike-alerts/internal/cli"

func main() {
	cli.Execute()
}
