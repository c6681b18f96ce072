package main

import "github.com/MeKo-Tech/stereowls/cmd/stereowls/cmd"

func main() {
	cmd.Execute()
}
