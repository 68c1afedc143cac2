package main

import "github.com/pders01/ctxsnap/cmd"

func main() {
	cmd.Execute()
}
