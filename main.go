package main

import "dripline/cli"

func main() {
	cli.Execute()
}
