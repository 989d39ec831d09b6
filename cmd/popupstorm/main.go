package main

import "popupstorm/cmd/popupstorm/commands"

func main() {
	commands.Execute()
}
