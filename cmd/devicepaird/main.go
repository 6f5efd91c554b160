package main

import "github.com/rlebel12/devicepair/cmd/devicepaird/cmd"

func main() {
	cmd.Execute()
}
