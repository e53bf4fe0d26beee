package main

import "dashprobe/cmd"

func main() {
	cmd.Execute()
}
