package main

import "boxdharvest-backend/cmd/boxdharvest/cmd"

func main() {
	cmd.Execute()
}
