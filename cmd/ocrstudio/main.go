package main

import (
	"github.com/MeKo-Tech/ocrstudio/cmd/ocrstudio/cmd"
)

func main() {
	cmd.Execute()
}
