package main

import "go-avatar-pipeline/cmd/avatargen/cmd"

func main() {
	cmd.Execute()
}
