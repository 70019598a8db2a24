package main

import "smartmeet/cmd"

func main() {
	cmd.Execute()
}
