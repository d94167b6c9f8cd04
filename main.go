package main

import "github.com/tinyredis/tinyredis/cmd"

func main() {
	cmd.Execute()
}
