package main

import "github.com/bardusco/clawtrace/internal/cli"

func main() {
	cli.Execute()
}
