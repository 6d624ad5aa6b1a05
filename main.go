package main

import "github.com/darkskygit/ChatImporter/cmd"

func main() {
	cmd.Execute()
}
