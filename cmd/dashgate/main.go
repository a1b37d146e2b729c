package main

import "github.com/Sentinel-Gate/dashgate/cmd/dashgate/cmd"

func main() {
	cmd.Execute()
}
