package main

import "rampcheck/cmd"

func main() {
	cmd.Execute()
}
