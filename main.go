package main

import "github.com/waclerk/waclerk/cmd"

func main() {
	cmd.Execute()
}
