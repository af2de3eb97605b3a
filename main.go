package main

import "github.com/xtream1101/docker-backup-sidecar/cmd"

func main() {
	cmd.Execute()
}
