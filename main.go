package main

import "github.com/StinkyLord/cpe-identifier/cmd"

func main() {
	cmd.Execute()
}
