package main

import "open-pryv.io/core/cli"

func main() {
	cli.Execute()
}
