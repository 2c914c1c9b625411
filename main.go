package main

import (
	"github.com/ValentinKolb/dcache/cmd"
)

func main() {
	cmd.Execute()
}
