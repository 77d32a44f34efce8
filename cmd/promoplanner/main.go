package main

import "promo-planner/internal/cli"

func main() {
	cli.Execute()
}
