package main

import "github.com/jmehdipour/asset-lifecycle/cmd"

func main() {
	cmd.Execute()
}
