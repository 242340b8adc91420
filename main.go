package main

import "github.com/theirongolddev/devcost/cmd"

func main() {
	cmd.Execute()
}
