package main

import "stackvm/cmd"

func main() {
	cmd.Execute()
}
