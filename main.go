package main

import "github.com/ngld/devbox/cmd"

func main() {
	cmd.Execute()
}
