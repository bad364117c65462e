package main

import "github.com/kamusis/modres/cmd"

func main() {
	cmd.Execute()
}
