package main

import "datachat-agent/cmd"

func main() {
	cmd.Execute()
}
