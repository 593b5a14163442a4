package main

import "github.com/patrckmello/zg-planner/internal/cli"

func main() {
	cli.Execute()
}
