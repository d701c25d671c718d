package main

import "github.com/endorses/isdnq931/cmd"

func main() {
	cmd.Execute()
}
