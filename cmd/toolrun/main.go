package main

import "github.com/ZanzyTHEbar/toolrun/trun/cli"

func main() {
	cli.Execute()
}
