package main

import (
	"beatquiz/cmd"
)

func main() {
	cmd.Execute()
}
