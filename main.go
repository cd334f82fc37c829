package main

import "github.com/xiaot623/gogo/turngate/cmd"

func main() {
	cmd.Execute()
}
