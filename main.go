package main

import "github.com/kozaktomas/facesnap/cmd"

func main() {
	cmd.Execute()
}
