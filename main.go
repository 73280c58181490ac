package main

import (
	"github.com/mips-tech/atlasexplorer/cmd"
)

func main() {
	cmd.Execute()
}
