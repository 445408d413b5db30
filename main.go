package main

import "github.com/siteinspect/apiserver/cmd"

func main() {
	cmd.Execute()
}
