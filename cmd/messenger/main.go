package main

import "direct-messenger/cmd"

func main() {
	cmd.Run()
}
