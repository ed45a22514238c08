package main

import "github.com/grmlab/gramscope/cmd"

func main() {
	cmd.Execute()
}
