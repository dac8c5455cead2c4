package main

import "glucose-forecast/internal/cli"

func main() {
	cli.Execute()
}
