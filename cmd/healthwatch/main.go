package main

import "position-health-alerts/internal/cli"

func main() {
	cli.Execute()
}
