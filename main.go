package main

import "github.com/frostbyte-io/frostbyte-go/cmd"

func main() {
	cmd.Execute()
}
